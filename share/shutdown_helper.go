package bsshare

import (
	"context"
	"sync"
	"time"
)

// OnceActivateHandler brings an object up. It runs at most once, while
// shutdown is held off; a non-nil error aborts activation and starts shutdown.
type OnceActivateHandler func() error

// OnceShutdownHandler is implemented by objects managed by a ShutdownHelper
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, in its own goroutine.
	// completionError is advisory; the return value becomes the final status.
	HandleOnceShutdown(completionError error) error
}

// AsyncShutdowner is anything that can be asked to stop and then waited on
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	IsDoneShutdown() bool
	WaitShutdown() error
}

type shutdownPhase int

const (
	phaseRunning shutdownPhase = iota

	// phaseRequested means StartShutdown was called while activation was in
	// progress; the sequence begins when activation finishes
	phaseRequested
	phaseStarted
	phaseDone
)

// ShutdownHelper is embedded by long-lived objects (servers, sessions,
// websocket connections, the record store) to give them activate-once and
// shutdown-once semantics, plus a wait group and child objects that must
// finish before shutdown completes.
//
// The sequence is: ShutdownStartedChan closes, HandleOnceShutdown runs,
// children are told to stop, the wait group drains, ShutdownDoneChan closes.
type ShutdownHelper struct {
	Logger

	mu         sync.Mutex
	handler    OnceShutdownHandler
	phase      shutdownPhase
	activating bool
	activated  bool
	status     error

	started     chan struct{}
	handlerDone chan struct{}
	done        chan struct{}

	wg sync.WaitGroup
}

// InitShutdownHelper initializes a ShutdownHelper in place
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, shutdownHandler OnceShutdownHandler) {
	h.Logger = logger
	h.handler = shutdownHandler
	h.started = make(chan struct{})
	h.handlerDone = make(chan struct{})
	h.done = make(chan struct{})
}

// runShutdown is called once, by whoever moved the phase to phaseStarted
func (h *ShutdownHelper) runShutdown() {
	h.TLogf("shutdown started")
	close(h.started)
	go func() {
		h.mu.Lock()
		advisory := h.status
		h.mu.Unlock()

		final := h.handler.HandleOnceShutdown(advisory)

		h.mu.Lock()
		h.status = final
		h.mu.Unlock()
		close(h.handlerDone)

		h.wg.Wait()

		h.mu.Lock()
		h.phase = phaseDone
		h.mu.Unlock()
		h.TLogf("shutdown done")
		close(h.done)
	}()
}

// DoOnceActivate runs onceActivateHandler unless the object is already active
// (returns nil) or shutting down (returns an error, after waiting for the
// shutdown to finish if waitOnFail). A shutdown requested while the handler
// runs is deferred until it returns. If the handler fails, shutdown starts
// with its error, which is also returned.
func (h *ShutdownHelper) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	h.mu.Lock()
	switch {
	case h.activated:
		h.mu.Unlock()
		return nil
	case h.activating:
		h.mu.Unlock()
		return h.Errorf("cannot activate: activation already in progress")
	case h.phase != phaseRunning:
		h.mu.Unlock()
		var err error
		if waitOnFail {
			err = h.WaitShutdown()
		}
		if err == nil {
			err = h.Errorf("cannot activate: shutdown already started")
		}
		return err
	}
	h.activating = true
	h.mu.Unlock()

	err := onceActivateHandler()

	h.mu.Lock()
	h.activating = false
	h.activated = err == nil
	if err != nil && h.phase == phaseRunning {
		h.status = err
		h.phase = phaseRequested
	}
	startNow := h.phase == phaseRequested
	if startNow {
		h.phase = phaseStarted
	}
	h.mu.Unlock()

	if startNow {
		h.runShutdown()
	}
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// ShutdownOnContext starts shutdown with ctx.Err() when ctx is done. It does not block.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.started:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown returns true once the shutdown sequence has begun
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase >= phaseStarted
}

// IsDoneShutdown returns true once shutdown is complete
func (h *ShutdownHelper) IsDoneShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase == phaseDone
}

// ShutdownWG returns the wait group that must drain before shutdown completes.
// Goroutines owned by the object Add(1) before starting and Done() on exit.
func (h *ShutdownHelper) ShutdownWG() *sync.WaitGroup {
	return &h.wg
}

// ShutdownStartedChan is closed when the shutdown sequence begins
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.started
}

// ShutdownDoneChan is closed when shutdown is complete
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.done
}

// WaitShutdown blocks until shutdown is complete and returns the final
// status. It does not start shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// WaitShutdownTimeout is WaitShutdown bounded by d. done is false on timeout.
func (h *ShutdownHelper) WaitShutdownTimeout(d time.Duration) (done bool, err error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.done:
		return true, h.WaitShutdown()
	case <-t.C:
		return false, nil
	}
}

// StartShutdown begins shutdown in the background. Only the first call has
// an effect; its argument is the advisory status.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.mu.Lock()
	if h.phase != phaseRunning {
		h.mu.Unlock()
		return
	}
	h.status = completionErr
	if h.activating {
		h.phase = phaseRequested
		h.mu.Unlock()
		return
	}
	h.phase = phaseStarted
	h.mu.Unlock()
	h.runShutdown()
}

// Shutdown starts shutdown if needed and waits for it to complete
func (h *ShutdownHelper) Shutdown(completionError error) error {
	h.StartShutdown(completionError)
	return h.WaitShutdown()
}

// Close shuts down with a nil advisory status and returns the final status
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild ties child to this object: once HandleOnceShutdown
// returns, the child is stopped with the final status, and shutdown does not
// complete until the child is done
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.TLogf("adding shutdown child %s", child)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-child.ShutdownDoneChan():
		case <-h.handlerDone:
			h.mu.Lock()
			status := h.status
			h.mu.Unlock()
			child.StartShutdown(status)
			child.WaitShutdown()
		}
	}()
}
