package bsshare

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer serves the websocket upgrade endpoint of one listen address.
// Binding and serving are separate steps so that every address can be bound
// before any of them accepts a client.
type HTTPServer struct {
	ShutdownHelper
	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer creates an unbound HTTPServer
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		srv: &http.Server{ReadHeaderTimeout: 10 * time.Second},
	}
	h.InitShutdownHelper(logger, h)
	return h
}

// Listen binds addr ("host:port"; port 0 picks a free one)
func (h *HTTPServer) Listen(addr string) error {
	if h.listener != nil {
		return h.Errorf("already listening on %s", h.listener.Addr())
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return h.DLogErrorf("Listen on %s failed: %s", addr, err)
	}
	h.listener = l
	return nil
}

// BoundAddr returns the bound address, or nil before Listen
func (h *HTTPServer) BoundAddr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Serve accepts requests for handler until ctx is done or the server is shut
// down, and returns the final status
func (h *HTTPServer) Serve(ctx context.Context, handler http.Handler) error {
	err := h.DoOnceActivate(func() error {
		if h.listener == nil {
			return h.Errorf("Serve called before Listen")
		}
		h.srv.Handler = handler
		h.ShutdownOnContext(ctx)
		wg := h.ShutdownWG()
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.srv.Serve(h.listener)
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			h.StartShutdown(err)
		}()
		return nil
	}, true)
	if err != nil {
		return err
	}
	return h.WaitShutdown()
}

// ListenAndServe is Listen followed by Serve
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	if err := h.Listen(addr); err != nil {
		h.StartShutdown(err)
		return err
	}
	return h.Serve(ctx, handler)
}

// HandleOnceShutdown stops accepting. Hijacked websocket connections belong
// to their sessions and are not touched.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	if h.listener == nil {
		return completionErr
	}
	err := h.srv.Close()
	// the server only tracks the listener once Serve is running
	if lerr := h.listener.Close(); err == nil && !errors.Is(lerr, net.ErrClosed) {
		err = lerr
	}
	if err != nil {
		h.DLogf("Closing listener: %s", err)
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}
