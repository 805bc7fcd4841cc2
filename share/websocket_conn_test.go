package bsshare

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// headerTarget is a websocket target that rejects handshakes carrying any
// of its refused headers and echoes one frame back on accepted ones
type headerTarget struct {
	refused []string

	lock     sync.Mutex
	attempts []http.Header
}

func (h *headerTarget) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.lock.Lock()
	h.attempts = append(h.attempts, r.Header.Clone())
	h.lock.Unlock()
	for _, name := range h.refused {
		if r.Header.Get(name) != "" {
			http.Error(w, "header "+name+" not allowed", http.StatusForbidden)
			return
		}
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	mt, data, err := ws.ReadMessage()
	if err != nil {
		return
	}
	ws.WriteMessage(mt, data)
}

func (h *headerTarget) Attempts() []http.Header {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]http.Header(nil), h.attempts...)
}

func startHeaderTarget(t *testing.T, refused ...string) (*headerTarget, string) {
	t.Helper()
	target := &headerTarget{refused: refused}
	srv := httptest.NewServer(target)
	t.Cleanup(srv.Close)
	return target, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func clientHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer x")
	h.Set("X-Self-ID", "10")
	h.Set("X-Client-Role", "Universal")
	h.Set("User-Agent", "OneBot/11")
	h.Set("Cookie", "session=1")
	return h
}

func testWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Logger: testLogger(), Timeout: 2 * time.Second}
}

func TestDialerFallsBackToIdentityHeaders(t *testing.T) {
	target, endpoint := startHeaderTarget(t, "X-Client-Role")
	conn, err := testWebSocketDialer().Dial(context.Background(), endpoint, clientHeader())
	if err != nil {
		t.Fatalf("Dial returned error: %s", err)
	}
	defer conn.Close()

	attempts := target.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("%d handshake attempts, expected 2", len(attempts))
	}
	if attempts[0].Get("X-Client-Role") != "Universal" || attempts[0].Get("Cookie") != "" {
		t.Errorf("first attempt headers = %v", attempts[0])
	}
	second := attempts[1]
	if second.Get("Authorization") != "Bearer x" || second.Get("X-Self-ID") != "10" {
		t.Errorf("identity headers lost on fallback: %v", second)
	}
	if second.Get("X-Client-Role") != "" {
		t.Errorf("fallback still sends X-Client-Role")
	}

	// the connection is usable
	if err := conn.WriteFrame([]byte(testHeartbeat)); err != nil {
		t.Fatalf("write: %s", err)
	}
	if raw := readWithin(t, conn, 2*time.Second); string(raw) != testHeartbeat {
		t.Errorf("echoed frame = %s", raw)
	}
}

func TestDialerFallsBackToNoHeaders(t *testing.T) {
	target, endpoint := startHeaderTarget(t, "Authorization")
	conn, err := testWebSocketDialer().Dial(context.Background(), endpoint, clientHeader())
	if err != nil {
		t.Fatalf("Dial returned error: %s", err)
	}
	conn.Close()
	attempts := target.Attempts()
	if len(attempts) != 3 {
		t.Fatalf("%d handshake attempts, expected 3", len(attempts))
	}
	if last := attempts[2]; last.Get("Authorization") != "" || last.Get("X-Self-ID") != "" {
		t.Errorf("last attempt still forwards identity: %v", last)
	}
}

func TestDialerReportsRejection(t *testing.T) {
	// the default gorilla handshake always carries Sec-Websocket-Version
	_, endpoint := startHeaderTarget(t, "Sec-Websocket-Version")
	_, err := testWebSocketDialer().Dial(context.Background(), endpoint, clientHeader())
	if !errors.Is(err, ErrDialFailure) {
		t.Fatalf("error = %v, expected ErrDialFailure", err)
	}
	if !strings.Contains(err.Error(), websocket.ErrBadHandshake.Error()) {
		t.Errorf("error does not mention the rejected handshake: %s", err)
	}
}
