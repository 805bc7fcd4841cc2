package bsshare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FrameConn is a message-oriented, full-duplex connection carrying JSON text
// frames. ReadFrame is called from one goroutine at a time; WriteFrame may be
// called concurrently.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
	String() string
}

// DefaultPingInterval is the keepalive cadence on every websocket
const DefaultPingInterval = 20 * time.Second

const writeWait = 10 * time.Second

// WebSocketConn adapts a gorilla websocket to FrameConn. gorilla conns allow
// one concurrent writer, so writes (including pings) are serialized here.
type WebSocketConn struct {
	ShutdownHelper
	ws           *websocket.Conn
	writeLock    sync.Mutex
	pingInterval time.Duration
	name         string
	Stats        TrafficStats
}

// NewWebSocketConn wraps ws and starts its keepalive loop. A pingInterval of
// zero disables keepalives.
func NewWebSocketConn(logger Logger, ws *websocket.Conn, name string, pingInterval time.Duration) *WebSocketConn {
	c := &WebSocketConn{
		ws:           ws,
		pingInterval: pingInterval,
		name:         name,
	}
	c.InitShutdownHelper(logger.Fork("%s", name), c)
	if pingInterval > 0 {
		ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
		})
		c.ShutdownWG().Add(1)
		go c.keepAliveLoop()
	}
	return c
}

func (c *WebSocketConn) String() string {
	return c.name
}

func (c *WebSocketConn) keepAliveLoop() {
	defer c.ShutdownWG().Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ShutdownStartedChan():
			return
		case <-ticker.C:
			c.writeLock.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeLock.Unlock()
			if err != nil {
				c.DLogf("Keepalive ping failed, closing: %s", err)
				c.StartShutdown(err)
				return
			}
		}
	}
}

// ReadFrame returns the next text or binary message
func (c *WebSocketConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if c.pingInterval > 0 {
			c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.Stats.AddRead(len(data))
		return data, nil
	}
}

// WriteFrame sends data as one text message
func (c *WebSocketConn) WriteFrame(data []byte) error {
	if c.IsStartedShutdown() {
		return ErrSessionClosed
	}
	c.writeLock.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeLock.Unlock()
	if err != nil {
		return err
	}
	c.Stats.AddWritten(len(data))
	return nil
}

// HandleOnceShutdown sends a close frame on a best-effort basis and closes the socket
func (c *WebSocketConn) HandleOnceShutdown(completionErr error) error {
	c.writeLock.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeLock.Unlock()
	err := c.ws.Close()
	c.DLogf("Closed: %s", &c.Stats)
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Close shuts the connection down and waits for the keepalive loop to exit
func (c *WebSocketConn) Close() error {
	return c.ShutdownHelper.Close()
}

// upgrader accepts client connections. Any origin is allowed: clients are
// protocol implementations, not browsers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// forwardedHeaders are copied from the client's handshake onto every target dial
var forwardedHeaders = []string{"Authorization", "X-Self-ID", "X-Client-Role", "User-Agent"}

// identityHeaders is the reduced set tried when a target rejects the full set
var identityHeaders = []string{"Authorization", "X-Self-ID"}

// SelectHeaders copies the named headers from h
func SelectHeaders(h http.Header, names []string) http.Header {
	out := http.Header{}
	for _, name := range names {
		if v := h.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// TargetDialer opens connections to target endpoints
type TargetDialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (FrameConn, error)
}

// WebSocketDialer dials targets with gorilla/websocket. When a target
// rejects the handshake it retries with progressively fewer forwarded
// headers: all of them, then identity only, then none.
type WebSocketDialer struct {
	Logger       Logger
	Timeout      time.Duration
	PingInterval time.Duration
}

// Dial implements TargetDialer
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (FrameConn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		HandshakeTimeout:  d.Timeout,
		EnableCompression: true,
	}
	strategies := []http.Header{
		SelectHeaders(header, forwardedHeaders),
		SelectHeaders(header, identityHeaders),
		nil,
	}
	var lastErr error
	for i, h := range strategies {
		if i > 0 && len(h) == len(strategies[i-1]) {
			continue
		}
		ws, resp, err := dialer.DialContext(ctx, endpoint, h)
		if err == nil {
			return NewWebSocketConn(d.Logger, ws, endpoint, d.PingInterval), nil
		}
		lastErr = err
		if !errors.Is(err, websocket.ErrBadHandshake) {
			break
		}
		status := ""
		if resp != nil {
			status = resp.Status
		}
		d.Logger.DLogf("Handshake with %s rejected (%s) using %d forwarded headers; retrying with fewer",
			endpoint, strings.TrimSpace(status), len(h))
	}
	return nil, fmt.Errorf("%w: %s: %s", ErrDialFailure, endpoint, lastErr)
}
