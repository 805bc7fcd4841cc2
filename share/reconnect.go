package bsshare

import (
	"time"

	"github.com/jpillora/backoff"
)

// reconnectSchedule yields the delay before each reconnect attempt: a fast
// phase of FastAttempts delays of FastInterval, then SlowInterval forever
type reconnectSchedule struct {
	policy ReconnectPolicy
	fast   *backoff.Backoff
	slow   *backoff.Backoff
}

func newReconnectSchedule(policy ReconnectPolicy) *reconnectSchedule {
	return &reconnectSchedule{
		policy: policy,
		fast:   &backoff.Backoff{Min: policy.FastInterval, Max: policy.FastInterval},
		slow:   &backoff.Backoff{Min: policy.SlowInterval, Max: policy.SlowInterval},
	}
}

// next returns the delay before the next attempt, the 1-based attempt
// number and whether the fast phase is over
func (r *reconnectSchedule) next() (d time.Duration, attempt int, slow bool) {
	if int(r.fast.Attempt()) < r.policy.FastAttempts {
		d = r.fast.Duration()
		return d, int(r.fast.Attempt()), false
	}
	d = r.slow.Duration()
	return d, int(r.fast.Attempt() + r.slow.Attempt()), true
}

// sleep waits for d or until the session starts shutting down. It returns
// false if the session is going away.
func (s *Session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ShutdownStartedChan():
		return false
	}
}

// triggerReconnect starts the supervisor for t unless one is already
// running. The caller must hold a count on the session's wait group.
func (s *Session) triggerReconnect(t *target) {
	if s.IsStartedShutdown() {
		return
	}
	if !t.reconnectLock.TryLock() {
		t.DLogf("Reconnect already in progress")
		return
	}
	s.ShutdownWG().Add(1)
	go s.superviseTarget(t)
}

// superviseTarget redials t until it succeeds or the session ends. On
// success the handshake is replayed to t alone, and outbound forwarding
// resumes after the settle delay. Broadcasts reach t from the moment it is
// installed.
func (s *Session) superviseTarget(t *target) {
	defer s.ShutdownWG().Done()
	locked := true
	defer func() {
		if locked {
			t.reconnectLock.Unlock()
		}
	}()

	policy := s.config.Reconnect
	sched := newReconnectSchedule(policy)
	announcedSlow := false
	for {
		d, attempt, slow := sched.next()
		if slow && !announcedSlow {
			t.WLogf("Still unreachable after %d attempts; retrying every %s", policy.FastAttempts, policy.SlowInterval)
			announcedSlow = true
		}
		t.DLogf("Reconnecting in %s (attempt %d)", d, attempt)
		if !s.sleep(d) {
			return
		}
		conn, err := s.dialTarget(t)
		if err != nil {
			t.DLogf("Reconnect attempt %d failed: %s", attempt, err)
			continue
		}
		if !t.install(conn) {
			conn.Close()
			return
		}
		t.ILogf("Reconnected after %d attempts", attempt)
		s.replayHandshake(t)
		if !s.sleep(policy.SettleDelay) {
			return
		}

		// unlock before the read loop starts so that its exit can trigger a new supervisor
		t.reconnectLock.Unlock()
		locked = false
		s.ShutdownWG().Add(1)
		go s.runTarget(t, conn)
		return
	}
}
