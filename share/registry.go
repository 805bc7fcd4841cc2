package bsshare

import (
	"sync"
	"time"
)

// Registry holds the live session of each route. A route has at most one
// session; a newer client supersedes the older one.
type Registry struct {
	Logger
	config SessionConfig

	lock     sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry(logger Logger, config SessionConfig) *Registry {
	return &Registry{
		Logger:   logger,
		config:   config,
		sessions: make(map[string]*Session),
	}
}

// Replace makes s the session of its route. A previous session is stopped
// with ErrSuperseded, waited for up to StopTimeout, and followed by the
// SupersedeSettle delay before Replace returns.
func (r *Registry) Replace(routeID string, s *Session) {
	r.lock.Lock()
	old := r.sessions[routeID]
	r.sessions[routeID] = s
	r.lock.Unlock()

	if old == nil || old == s {
		return
	}
	r.ILogf("New client on route %s supersedes the current session", routeID)
	old.Stop(ErrSuperseded, r.config.StopTimeout)
	if r.config.SupersedeSettle > 0 {
		time.Sleep(r.config.SupersedeSettle)
	}
}

// Remove forgets s if it is still the session of its route
func (r *Registry) Remove(routeID string, s *Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.sessions[routeID] == s {
		delete(r.sessions, routeID)
	}
}

// Get returns the route's live session, or nil
func (r *Registry) Get(routeID string) *Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.sessions[routeID]
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}

// StopAll stops every session concurrently, each bounded by StopTimeout
func (r *Registry) StopAll(cause error) {
	r.lock.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.lock.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop(cause, r.config.StopTimeout)
		}(s)
	}
	wg.Wait()
}
