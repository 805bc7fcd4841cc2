package bsshare

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tomasen/realip"
)

// handleClientHandler is the http handler of one listen address. Websocket
// upgrades on a route's path become sessions; /health answers plain requests.
func (s *Server) handleClientHandler(ctx context.Context, g *listenerGroup, w http.ResponseWriter, r *http.Request) {
	route := g.routes[r.URL.Path]
	if route == nil {
		if r.URL.Path == "/health" {
			w.Write([]byte("OK\n"))
			return
		}
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if s.IsStartedShutdown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	remote := realip.FromRequest(r)
	s.DLogf("Upgrading client %s on route %s", remote, route.ID)
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.DLogf("Failed to upgrade client %s: %s", remote, err)
		return
	}
	header := r.Header.Clone()
	go s.handleWebsocket(ctx, route, wsConn, header, remote)
}

// handleWebsocket runs one client connection to completion
func (s *Server) handleWebsocket(ctx context.Context, route *Route, wsConn *websocket.Conn, header http.Header, remote string) {
	id := s.connStats.New()
	s.connStats.Open()
	defer s.connStats.Close()

	conn := NewWebSocketConn(s.Logger, wsConn, fmt.Sprintf("client#%d(%s)", id, remote), s.config.PingInterval)
	session := NewSession(s.Logger, route, conn, header, SessionOptions{
		Config:      s.config.Session,
		Dialer:      s.dialer,
		Policy:      s.config.Policy,
		Persistence: s.config.Persistence,
		Dispatcher:  s.config.Dispatcher,
	})
	if err := session.Accept(); err != nil {
		session.DLogf("%s: %s", conn, err)
		session.Close()
		return
	}
	s.ILogf("%s Client %s connected to route %s", &s.connStats, remote, route.ID)

	s.registry.Replace(route.ID, session)
	if s.IsStartedShutdown() {
		s.registry.Remove(route.ID, session)
		session.Close()
		return
	}
	if err := session.Start(ctx); err != nil {
		s.registry.Remove(route.ID, session)
		session.Close()
		return
	}
	err := session.WaitShutdown()
	s.registry.Remove(route.ID, session)
	s.ILogf("%s Client %s left route %s: %v", &s.connStats, remote, route.ID, err)
}
