package bsshare

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/requestlog"
)

// ServerConfig is the configuration of the proxy service
type ServerConfig struct {
	Routes  []*Route
	Session SessionConfig

	// PingInterval is the keepalive cadence on every websocket; zero means DefaultPingInterval
	PingInterval time.Duration

	Policy      Policy
	Persistence Persistence
	Dispatcher  Dispatcher

	// Dialer overrides the websocket target dialer
	Dialer TargetDialer
}

// listenerGroup is every enabled route sharing one listen address
type listenerGroup struct {
	addr       string
	routes     map[string]*Route
	httpServer *HTTPServer
}

// Server listens on the client endpoint of every enabled route and runs a
// session for each accepted client
type Server struct {
	ShutdownHelper
	config    ServerConfig
	connStats ConnStats
	registry  *Registry
	dialer    TargetDialer
	listeners []*listenerGroup

	readyOnce sync.Once
	ready     chan struct{}
}

// NewServer validates the routes and groups them by listen address
func NewServer(logger Logger, config *ServerConfig) (*Server, error) {
	s := &Server{
		config: *config,
		ready:  make(chan struct{}),
	}
	s.InitShutdownHelper(logger, s)
	if s.config.PingInterval == 0 {
		s.config.PingInterval = DefaultPingInterval
	}
	s.registry = NewRegistry(logger.Fork("registry"), s.config.Session)
	s.dialer = s.config.Dialer
	if s.dialer == nil {
		s.dialer = &WebSocketDialer{
			Logger:       logger.Fork("dialer"),
			Timeout:      s.config.Session.DialTimeout,
			PingInterval: s.config.PingInterval,
		}
	}

	byAddr := map[string]*listenerGroup{}
	for _, r := range s.config.Routes {
		if !r.Enabled {
			s.ILogf("Route %s is disabled", r.ID)
			continue
		}
		if err := r.Validate(); err != nil {
			return nil, s.Errorf("%s", err)
		}
		addr, path, _ := r.ListenAddr()
		g := byAddr[addr]
		if g == nil {
			g = &listenerGroup{addr: addr, routes: map[string]*Route{}}
			byAddr[addr] = g
			s.listeners = append(s.listeners, g)
		}
		if other, ok := g.routes[path]; ok {
			return nil, s.Errorf("Routes %s and %s both listen on %s%s", other.ID, r.ID, addr, path)
		}
		g.routes[path] = r
	}
	sort.Slice(s.listeners, func(i, j int) bool { return s.listeners[i].addr < s.listeners[j].addr })
	return s, nil
}

// Registry returns the session registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Ready is closed once every listener is bound
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run binds every listener and serves until ctx is cancelled or a listener
// fails, then stops all sessions
func (s *Server) Run(ctx context.Context) error {
	err := s.DoOnceActivate(
		func() error {
			s.ShutdownOnContext(ctx)
			if len(s.listeners) == 0 {
				s.WLogf("No enabled routes")
			}
			for _, g := range s.listeners {
				g.httpServer = NewHTTPServer(s.Logger.Fork("http:%s", g.addr))
				if err := g.httpServer.Listen(g.addr); err != nil {
					return err
				}
				paths := make([]string, 0, len(g.routes))
				for p, r := range g.routes {
					paths = append(paths, fmt.Sprintf("%s -> %s", p, r.ID))
				}
				sort.Strings(paths)
				s.ILogf("Listening on %s %v", g.httpServer.BoundAddr(), paths)
			}
			for _, g := range s.listeners {
				g := g
				h := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					s.handleClientHandler(ctx, g, w, r)
				}))
				if s.GetLogLevel() >= LogLevelDebug {
					h = requestlog.Wrap(h)
				}
				s.AddShutdownChild(g.httpServer)
				go func() {
					if err := g.httpServer.Serve(ctx, h); err != nil {
						s.StartShutdown(err)
					}
				}()
			}
			s.readyOnce.Do(func() { close(s.ready) })
			return nil
		},
		true,
	)
	if err != nil {
		return err
	}
	return s.WaitShutdown()
}

// HandleOnceShutdown stops every session; the http servers are children and
// shut down afterwards
func (s *Server) HandleOnceShutdown(completionErr error) error {
	s.DLogf("HandleOnceShutdown")
	for _, g := range s.listeners {
		if g.httpServer != nil {
			g.httpServer.StartShutdown(completionErr)
		}
	}
	s.registry.StopAll(ErrSessionClosed)
	s.ILogf("Stopped; %s client connections", &s.connStats)
	return completionErr
}
