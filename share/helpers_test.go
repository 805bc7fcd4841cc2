package bsshare

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

func testLogger() Logger {
	return NewLoggerWithWriter(io.Discard, "test", LogLevelDebug)
}

// logBuffer collects log output from several goroutines
type logBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Reconnect: ReconnectPolicy{
			FastInterval: 10 * time.Millisecond,
			FastAttempts: 3,
			SlowInterval: 40 * time.Millisecond,
			SettleDelay:  20 * time.Millisecond,
		},
		DialTimeout:     time.Second,
		StopTimeout:     time.Second,
		SupersedeSettle: 10 * time.Millisecond,
	}
}

// fakePolicy is an in-memory Policy
type fakePolicy struct {
	lock           sync.Mutex
	global         GlobalPolicy
	disabled       map[onebot.ID]bool
	groups         map[onebot.ID]GroupState
	accountAliases map[onebot.ID]AliasTable
	blacklist      map[BlacklistKind]map[onebot.ID]bool
	counts         map[onebot.ID]*SendCount
	touches        []string
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{
		global: GlobalPolicy{
			CommandPrefix:     "bs",
			TriggerPrefix:     "bs触发",
			AllowPrivate:      true,
			PrivateFriendOnly: true,
		},
		disabled:       map[onebot.ID]bool{},
		groups:         map[onebot.ID]GroupState{},
		accountAliases: map[onebot.ID]AliasTable{},
		blacklist:      map[BlacklistKind]map[onebot.ID]bool{BlacklistUsers: {}, BlacklistGroups: {}},
		counts:         map[onebot.ID]*SendCount{},
	}
}

func (p *fakePolicy) IsAccountEnabled(selfID onebot.ID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return !p.disabled[selfID]
}

func (p *fakePolicy) GroupState(groupID onebot.ID) GroupState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.groups[groupID]
}

func (p *fakePolicy) AccountAliases(selfID onebot.ID) AliasTable {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.accountAliases[selfID]
}

func (p *fakePolicy) GlobalPolicy() *GlobalPolicy {
	p.lock.Lock()
	defer p.lock.Unlock()
	gp := p.global
	return &gp
}

func (p *fakePolicy) IsBlacklisted(kind BlacklistKind, id onebot.ID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.blacklist[kind][id]
}

func (p *fakePolicy) IsSuperuser(id onebot.ID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, su := range p.global.Superusers {
		if su == id {
			return true
		}
	}
	return false
}

func (p *fakePolicy) TouchActivity(selfID, groupID onebot.ID, direction Direction) SendCount {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.touches = append(p.touches, fmt.Sprintf("%s %s %s", selfID, groupID, direction))
	before := p.copyCountLocked(selfID)
	if direction != DirectionSend {
		return before
	}
	c := p.countLocked(selfID)
	if groupID.IsSet() {
		c.GroupTotal++
		c.Groups[groupID]++
	} else {
		c.Private++
	}
	return before
}

func (p *fakePolicy) countLocked(selfID onebot.ID) *SendCount {
	c := p.counts[selfID]
	if c == nil {
		c = &SendCount{Groups: map[onebot.ID]int{}}
		p.counts[selfID] = c
	}
	return c
}

func (p *fakePolicy) SendCount(selfID onebot.ID) SendCount {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.copyCountLocked(selfID)
}

func (p *fakePolicy) copyCountLocked(selfID onebot.ID) SendCount {
	c := *p.countLocked(selfID)
	groups := make(map[onebot.ID]int, len(c.Groups))
	for k, v := range c.Groups {
		groups[k] = v
	}
	c.Groups = groups
	return c
}

func (p *fakePolicy) Touches() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]string(nil), p.touches...)
}

// recordingStore is a Persistence that keeps every record
type recordingStore struct {
	lock    sync.Mutex
	records []MessageRecord
}

func (s *recordingStore) RecordMessage(rec MessageRecord) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingStore) Records() []MessageRecord {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]MessageRecord(nil), s.records...)
}

// dialedPeer is the target side of a connection made by fakeDialer
type dialedPeer struct {
	endpoint string
	conn     *PipeConn
	header   http.Header
}

// fakeDialer connects to in-memory targets. An endpoint can be made to fail
// a number of times, or forever with -1.
type fakeDialer struct {
	lock     sync.Mutex
	failures map[string]int
	attempts map[string]int
	peers    chan dialedPeer
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		failures: map[string]int{},
		attempts: map[string]int{},
		peers:    make(chan dialedPeer, 32),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string, header http.Header) (FrameConn, error) {
	d.lock.Lock()
	d.attempts[endpoint]++
	n := d.failures[endpoint]
	if n > 0 {
		d.failures[endpoint] = n - 1
	}
	d.lock.Unlock()
	if n != 0 {
		return nil, fmt.Errorf("%w: %s: connection refused", ErrDialFailure, endpoint)
	}
	local, remote := NewPipeConnPair(endpoint+"/proxy", endpoint+"/target", 64)
	d.peers <- dialedPeer{endpoint: endpoint, conn: remote, header: SelectHeaders(header, forwardedHeaders)}
	return local, nil
}

func (d *fakeDialer) setFailures(endpoint string, n int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.failures[endpoint] = n
}

func (d *fakeDialer) Attempts(endpoint string) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.attempts[endpoint]
}

func (d *fakeDialer) nextPeer(t *testing.T, within time.Duration) dialedPeer {
	t.Helper()
	select {
	case p := <-d.peers:
		return p
	case <-time.After(within):
		t.Fatalf("no target connection within %s", within)
	}
	return dialedPeer{}
}

// readWithin reads one frame from c or fails the test
func readWithin(t *testing.T, c FrameConn, within time.Duration) []byte {
	t.Helper()
	ch := make(chan []byte, 1)
	go func() {
		data, err := c.ReadFrame()
		if err != nil {
			data = nil
		}
		ch <- data
	}()
	select {
	case data := <-ch:
		if data == nil {
			t.Fatalf("read from %s failed", c)
		}
		return data
	case <-time.After(within):
		t.Fatalf("timed out reading from %s", c)
	}
	return nil
}

// readFrame reads and parses one frame from c
func readFrame(t *testing.T, c FrameConn) onebot.Frame {
	t.Helper()
	raw := readWithin(t, c, 2*time.Second)
	f, err := onebot.Parse(raw)
	if err != nil {
		t.Fatalf("frame from %s does not parse: %s", c, err)
	}
	return f
}

func mustWrite(t *testing.T, c FrameConn, raw string) {
	t.Helper()
	if err := c.WriteFrame([]byte(raw)); err != nil {
		t.Fatalf("write to %s failed: %s", c, err)
	}
}

func groupMessage(selfID, userID, groupID int64, text string) *onebot.MessageEvent {
	raw := fmt.Sprintf(`{"post_type":"message","message_type":"group","sub_type":"normal","time":1700000000,"self_id":%d,"user_id":%d,"group_id":%d,"message_id":1,"message":[{"type":"text","data":{"text":%q}}],"raw_message":%q,"sender":{"user_id":%d,"role":"member"}}`,
		selfID, userID, groupID, text, text, userID)
	f, err := onebot.Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return f.(*onebot.MessageEvent)
}

func privateMessage(selfID, userID int64, subType, text string) *onebot.MessageEvent {
	raw := fmt.Sprintf(`{"post_type":"message","message_type":"private","sub_type":%q,"time":1700000000,"self_id":%d,"user_id":%d,"message_id":2,"message":[{"type":"text","data":{"text":%q}}],"raw_message":%q,"sender":{"user_id":%d}}`,
		subType, selfID, userID, text, text, userID)
	f, err := onebot.Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return f.(*onebot.MessageEvent)
}
