package bsshare

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Route describes one configured listener and the targets its client is fanned
// out to. It is read once when a session starts.
type Route struct {
	ID              string   `json:"-"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ClientEndpoint  string   `json:"client_endpoint"`
	TargetEndpoints []string `json:"target_endpoints"`
	Enabled         bool     `json:"enabled"`
}

func (r *Route) String() string {
	return r.ID
}

// Validate checks that the endpoints are usable websocket URLs
func (r *Route) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route has no id")
	}
	if _, _, err := r.ListenAddr(); err != nil {
		return fmt.Errorf("route %s: %s", r.ID, err)
	}
	for i, ep := range r.TargetEndpoints {
		u, err := url.Parse(ep)
		if err != nil {
			return fmt.Errorf("route %s: target %d: %s", r.ID, i+1, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("route %s: target %d: scheme must be ws or wss, got \"%s\"", r.ID, i+1, u.Scheme)
		}
	}
	return nil
}

// ListenAddr splits the client endpoint into the host:port to listen on and
// the URL path clients connect to. A missing port defaults to 80, a missing
// path to "/".
func (r *Route) ListenAddr() (addr string, path string, err error) {
	u, err := url.Parse(r.ClientEndpoint)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "ws" && u.Scheme != "http" {
		return "", "", fmt.Errorf("client endpoint scheme must be ws, got \"%s\"", u.Scheme)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return net.JoinHostPort(host, port), path, nil
}

// ReconnectPolicy is the cadence of a target's reconnect supervisor: a fast
// phase of FastAttempts dials FastInterval apart, then a slow phase that
// retries every SlowInterval until the session ends
type ReconnectPolicy struct {
	FastInterval time.Duration
	FastAttempts int
	SlowInterval time.Duration

	// SettleDelay separates the handshake replay from resuming the target's
	// outbound forwarding
	SettleDelay time.Duration
}

// DefaultReconnectPolicy is about two minutes of fast retries followed by one
// attempt every ten minutes
var DefaultReconnectPolicy = ReconnectPolicy{
	FastInterval: 3 * time.Second,
	FastAttempts: 40,
	SlowInterval: 10 * time.Minute,
	SettleDelay:  5 * time.Second,
}

// SessionConfig holds the per-session tunables
type SessionConfig struct {
	Reconnect ReconnectPolicy

	// DialTimeout bounds a single target dial
	DialTimeout time.Duration

	// StopTimeout bounds the cooperative stop of a superseded session
	StopTimeout time.Duration

	// SupersedeSettle is slept between stopping a superseded session and
	// starting its replacement
	SupersedeSettle time.Duration
}

// DefaultSessionConfig returns the production tunables
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Reconnect:       DefaultReconnectPolicy,
		DialTimeout:     30 * time.Second,
		StopTimeout:     3 * time.Second,
		SupersedeSettle: time.Second,
	}
}
