package bsshare

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
	"github.com/google/uuid"
)

// loopbackEchoPrefix marks echo tokens of requests the session itself sends
// to the client. Responses carrying it are consumed locally.
const loopbackEchoPrefix = "bs-loopback-"

// SessionOptions are the collaborators a session is built with. Dispatcher
// and Persistence may be nil.
type SessionOptions struct {
	Config      SessionConfig
	Dialer      TargetDialer
	Policy      Policy
	Persistence Persistence
	Dispatcher  Dispatcher
}

// Session proxies one client connection to every target of a route. It ends
// when the client connection ends; target failures are handled by each
// target's reconnect supervisor and never end the session.
type Session struct {
	ShutdownHelper
	route      *Route
	config     SessionConfig
	client     FrameConn
	header     http.Header
	dialer     TargetDialer
	pipeline   *Pipeline
	dispatcher Dispatcher
	echoes     *EchoTable
	targets    []*target
	ctx        context.Context
	cancel     context.CancelFunc
	Stats      TrafficStats

	stateLock sync.Mutex
	selfID    onebot.ID
	handshake []byte
}

// NewSession creates a session for a freshly accepted client. header is the
// client's upgrade request header; a subset of it is forwarded to targets.
func NewSession(logger Logger, route *Route, client FrameConn, header http.Header, opts SessionOptions) *Session {
	logger = logger.Fork("route:%s", route.ID)
	s := &Session{
		route:      route,
		config:     opts.Config,
		client:     client,
		header:     header,
		dialer:     opts.Dialer,
		pipeline:   NewPipeline(logger.Fork("pipeline"), route.ID, opts.Policy, opts.Persistence),
		dispatcher: opts.Dispatcher,
		echoes:     NewEchoTable(logger.Fork("echo")),
	}
	s.InitShutdownHelper(logger, s)
	for i, ep := range route.TargetEndpoints {
		s.targets = append(s.targets, newTarget(logger, i+1, ep))
	}
	return s
}

func (s *Session) String() string {
	return "session(" + s.route.ID + ")"
}

// SelfID returns the bound account id, or 0 while unbound
func (s *Session) SelfID() onebot.ID {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.selfID
}

// Handshake returns the cached first client frame
func (s *Session) Handshake() []byte {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.handshake
}

// Accept reads the client's first frame and caches it as the handshake that
// is replayed to every target on connect and reconnect
func (s *Session) Accept() error {
	raw, err := s.client.ReadFrame()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoHandshake, err)
	}
	s.Stats.AddRead(len(raw))
	s.stateLock.Lock()
	s.handshake = raw
	s.stateLock.Unlock()
	if f, err := onebot.Parse(raw); err == nil {
		s.bindSelfID(onebot.SelfIDOf(f))
	} else {
		s.WLogf("Handshake frame is not valid OneBot JSON; caching it anyway: %s", err)
	}
	if id, err := onebot.ParseID(s.header.Get("X-Self-ID")); err == nil {
		s.bindSelfID(id)
	}
	s.DLogf("Accepted client %s, self_id=%s", s.client, s.SelfID())
	return nil
}

// bindSelfID binds the account the first time an id is seen. Later,
// different ids are logged and ignored.
func (s *Session) bindSelfID(id onebot.ID) {
	if !id.IsSet() {
		return
	}
	s.stateLock.Lock()
	bound := s.selfID
	if !bound.IsSet() {
		s.selfID = id
	}
	s.stateLock.Unlock()
	switch {
	case !bound.IsSet():
		s.ILogf("Bound to account %s", id)
	case bound != id:
		s.WLogf("Frame carries self_id %s but session is bound to %s; keeping %s", id, bound, bound)
	}
}

// Start dials every target concurrently and starts forwarding. It returns
// immediately; use WaitShutdown to wait for the session to end. Cancelling
// ctx ends the session.
func (s *Session) Start(ctx context.Context) error {
	return s.DoOnceActivate(
		func() error {
			s.ctx, s.cancel = context.WithCancel(ctx)
			s.ShutdownOnContext(ctx)
			s.ILogf("Starting with %d targets", len(s.targets))
			for _, t := range s.targets {
				s.ShutdownWG().Add(1)
				go s.connectTarget(t)
			}
			s.ShutdownWG().Add(1)
			go s.inboundLoop()
			return nil
		},
		false,
	)
}

// Stop ends the session with cause and waits up to timeout for it to finish.
// It returns false if the session did not finish in time.
//
// Cancelling the session context first stops reconnect supervisors and
// pending dials. The forwarding loops are parked in socket reads, and closing
// the sockets is what unblocks them; the bounded wait then covers those
// goroutines draining. A session still running after timeout is abandoned
// with its sockets already closed.
func (s *Session) Stop(cause error, timeout time.Duration) bool {
	if s.cancel != nil {
		s.cancel()
	}
	s.StartShutdown(cause)
	done, _ := s.WaitShutdownTimeout(timeout)
	if !done {
		s.WLogf("Did not stop within %s; abandoning", timeout)
	}
	return done
}

// HandleOnceShutdown closes the client and every target connection
func (s *Session) HandleOnceShutdown(completionErr error) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.client.Close()
	for _, t := range s.targets {
		t.seal()
	}
	s.ILogf("Closed (%v); client %s; %d requests pending", completionErr, &s.Stats, s.echoes.Len())
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

func (s *Session) dialTarget(t *target) (FrameConn, error) {
	return s.dialer.Dial(s.ctx, t.endpoint, s.header)
}

// connectTarget makes the initial connection to t. A failure hands t to its
// reconnect supervisor.
func (s *Session) connectTarget(t *target) {
	defer s.ShutdownWG().Done()
	conn, err := s.dialTarget(t)
	if err != nil {
		t.WLogf("Initial connection failed: %s", err)
		s.triggerReconnect(t)
		return
	}
	if !t.install(conn) {
		conn.Close()
		return
	}
	t.ILogf("Connected")
	s.replayHandshake(t)
	s.ShutdownWG().Add(1)
	go s.runTarget(t, conn)
}

func (s *Session) replayHandshake(t *target) {
	hs := s.Handshake()
	if hs == nil {
		return
	}
	if t.write(hs) {
		t.DLogf("Replayed handshake (%d bytes)", len(hs))
	}
}

// runTarget forwards t's frames to the client until its connection drops,
// then hands t to the supervisor
func (s *Session) runTarget(t *target, conn FrameConn) {
	defer s.ShutdownWG().Done()
	for {
		raw, err := conn.ReadFrame()
		if err != nil {
			if !s.IsStartedShutdown() {
				t.WLogf("Connection lost: %s", err)
			}
			break
		}
		s.handleTargetFrame(t, raw)
	}
	conn.Close()
	if t.clear(conn) {
		s.triggerReconnect(t)
	}
}

// inboundLoop reads the client until it fails, which ends the session
func (s *Session) inboundLoop() {
	defer s.ShutdownWG().Done()
	for {
		raw, err := s.client.ReadFrame()
		if err != nil {
			s.StartShutdown(fmt.Errorf("%w: %s", ErrClientClosed, err))
			return
		}
		s.Stats.AddRead(len(raw))
		s.handleClientFrame(raw)
	}
}

func (s *Session) handleClientFrame(raw []byte) {
	f, err := onebot.Parse(raw)
	if err != nil {
		s.WLogf("Dropping frame from client: %s", err)
		return
	}
	s.bindSelfID(onebot.SelfIDOf(f))

	if resp, ok := f.(*onebot.ActionResponse); ok && resp.Echo.IsSet() {
		if strings.HasPrefix(resp.Echo.Key(), loopbackEchoPrefix) {
			s.DLogf("Consumed response to local request (retcode=%d)", resp.RetCode)
			return
		}
		if e, found := s.echoes.Take(resp.Echo); found {
			if !resp.OK() {
				s.logFailedCall(e, resp)
			}
			if !s.targets[e.TargetIndex-1].write(raw) {
				s.WLogf("Dropping response for target#%d: not connected", e.TargetIndex)
			}
			return
		}
	}

	res := s.pipeline.Inbound(s.SelfID(), f)
	if res.Verdict == Drop {
		return
	}
	if res.Command != nil {
		s.dispatch(res.Command)
		return
	}
	out := raw
	if res.Verdict == ForwardModified {
		if out, err = onebot.Encode(res.Frame); err != nil {
			s.ELogf("Re-encoding %s failed, dropping: %s", res.Frame.Kind(), err)
			return
		}
	}
	s.broadcast(out)
}

// logFailedCall warns about a failed action together with the request that
// caused it
func (s *Session) logFailedCall(e *CorrelationEntry, resp *onebot.ActionResponse) {
	action, params := "?", ""
	if e.Request != nil {
		action = e.Request.Action
		params, _ = onebot.ToCompactJsonString(e.Request.Params)
	}
	s.WLogf("API call failed: target#%d %s %s -> status=%s retcode=%d",
		e.TargetIndex, action, onebot.Abbrev(params, 200), resp.Status, resp.RetCode)
}

// broadcast sends data to every connected target
func (s *Session) broadcast(data []byte) {
	for _, t := range s.targets {
		t.write(data)
	}
}

// dispatch hands a command-prefixed message to the dispatcher. The message is
// never forwarded to targets; a reply goes back to the client.
func (s *Session) dispatch(ev *onebot.MessageEvent) {
	if s.dispatcher == nil {
		s.DLogf("No dispatcher; discarding command from user=%s", ev.UserID)
		return
	}
	reply := s.dispatcher.TryHandle(s.ctx, ev)
	if reply == nil {
		return
	}
	s.deliverLocal(reply)
}

// deliverLocal sends a request originated by the session itself. It takes
// the same outbound path as target requests, under index 0.
func (s *Session) deliverLocal(req *onebot.ActionRequest) {
	if !req.Echo.IsSet() {
		req.Echo = onebot.EchoString(loopbackEchoPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	res := s.pipeline.Outbound(s.SelfID(), req)
	if res.Verdict == Drop {
		return
	}
	out, err := onebot.Encode(res.Request)
	if err != nil {
		s.ELogf("Encoding local %s failed: %s", req.Action, err)
		return
	}
	s.writeClient(out)
}

func (s *Session) handleTargetFrame(t *target, raw []byte) {
	f, err := onebot.Parse(raw)
	if err != nil {
		t.WLogf("Dropping frame: %s", err)
		return
	}
	req, ok := f.(*onebot.ActionRequest)
	if !ok {
		s.writeClient(raw)
		return
	}
	if req.Echo.IsSet() {
		s.echoes.Insert(req.Echo, t.index, req)
	}
	res := s.pipeline.Outbound(s.SelfID(), req)
	switch res.Verdict {
	case Drop:
		s.echoes.Take(req.Echo)
		return
	case ForwardModified:
		if raw, err = onebot.Encode(res.Request); err != nil {
			t.ELogf("Re-encoding %s failed, dropping: %s", req.Action, err)
			s.echoes.Take(req.Echo)
			return
		}
	}
	s.writeClient(raw)
}

// writeClient sends data to the client. A failure ends the session.
func (s *Session) writeClient(data []byte) {
	if err := s.client.WriteFrame(data); err != nil {
		s.StartShutdown(fmt.Errorf("%w: write: %s", ErrClientClosed, err))
		return
	}
	s.Stats.AddWritten(len(data))
}
