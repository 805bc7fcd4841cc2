package bsshare

import (
	"sync"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

const (
	// echoTTL is the age past which a pending request is considered lost
	echoTTL = 120 * time.Second

	// echoPruneEvery triggers a prune whenever the table size reaches a multiple of it
	echoPruneEvery = 100
)

// CorrelationEntry remembers which target issued a pending action request
type CorrelationEntry struct {
	Request     *onebot.ActionRequest
	TargetIndex int
	Created     time.Time
}

// EchoTable maps echo tokens of in-flight action requests to the target that
// issued them, so the client's response can be routed back to that target
// alone. A table belongs to exactly one session.
type EchoTable struct {
	logger  Logger
	lock    sync.Mutex
	entries map[string]*CorrelationEntry
	now     func() time.Time
}

// NewEchoTable creates an empty table
func NewEchoTable(logger Logger) *EchoTable {
	return &EchoTable{
		logger:  logger,
		entries: make(map[string]*CorrelationEntry),
		now:     time.Now,
	}
}

// Insert records that targetIndex issued req under echo. A live entry with
// the same echo is overwritten; the last writer receives the response.
func (t *EchoTable) Insert(echo onebot.Echo, targetIndex int, req *onebot.ActionRequest) {
	key := echo.Key()
	if key == "" {
		return
	}
	t.lock.Lock()
	if old, ok := t.entries[key]; ok {
		t.logger.WLogf("Echo collision on \"%s\": target %d overwrites pending request from target %d",
			key, targetIndex, old.TargetIndex)
	}
	t.entries[key] = &CorrelationEntry{Request: req, TargetIndex: targetIndex, Created: t.now()}
	n := len(t.entries)
	t.lock.Unlock()

	if n%echoPruneEvery == 0 {
		t.Prune()
	}
}

// Take removes and returns the entry for echo
func (t *EchoTable) Take(echo onebot.Echo) (*CorrelationEntry, bool) {
	key := echo.Key()
	if key == "" {
		return nil, false
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	return e, ok
}

// Prune evicts entries older than the TTL and returns how many were evicted
func (t *EchoTable) Prune() int {
	t.lock.Lock()
	cutoff := t.now().Add(-echoTTL)
	evicted := 0
	for key, e := range t.entries {
		if e.Created.Before(cutoff) {
			delete(t.entries, key)
			evicted++
		}
	}
	remaining := len(t.entries)
	t.lock.Unlock()

	if evicted > 0 {
		t.logger.WLogf("Evicted %d pending requests older than %s; %d still pending (lost responses or a slow client)",
			evicted, echoTTL, remaining)
	}
	return evicted
}

// Len returns the number of pending entries
func (t *EchoTable) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.entries)
}
