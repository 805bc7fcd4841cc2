package bsconfig

import (
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
	bsshare "github.com/Loping151/BotShepherd-sub000/share"
)

// sendCountDateLayout is the UTC day a send tally belongs to
const sendCountDateLayout = "2006-01-02"

// Activity is what the store remembers about an account's traffic
type Activity struct {
	LastReceive time.Time
	LastSend    time.Time
	SendCount   bsshare.SendCount
}

// Store serves a configuration directory as a bsshare.Policy. Policy reads
// come from an immutable snapshot that Reload swaps atomically; activity and
// send tallies live in memory.
type Store struct {
	bsshare.Logger
	dir string
	now func() time.Time

	snapLock sync.RWMutex
	snap     *Snapshot

	activityLock sync.Mutex
	activity     map[onebot.ID]*Activity
	groupSeen    map[onebot.ID]time.Time
}

// Open loads dir and returns a Store serving it. Send tallies recorded in the
// account files for the current day are carried over.
func Open(logger bsshare.Logger, dir string) (*Store, error) {
	return openWithClock(logger, dir, time.Now)
}

func openWithClock(logger bsshare.Logger, dir string, now func() time.Time) (*Store, error) {
	s := &Store{
		Logger:    logger.Fork("config"),
		dir:       dir,
		now:       now,
		activity:  map[onebot.ID]*Activity{},
		groupSeen: map[onebot.ID]time.Time{},
	}
	snap, err := LoadDir(dir, s.WLogf)
	if err != nil {
		return nil, s.Errorf("loading %s: %s", dir, err)
	}
	s.snap = snap
	today := s.today()
	for id, a := range snap.Accounts {
		if a.SendCount == nil || a.SendCount.Date != today {
			continue
		}
		s.activity[id] = &Activity{SendCount: sendCountFromFile(a.SendCount, s.WLogf)}
	}
	s.ILogf("Loaded %s: %d routes, %d accounts, %d groups", dir, len(snap.Routes), len(snap.Accounts), len(snap.Groups))
	return s, nil
}

func sendCountFromFile(f *SendCountFile, warn func(string, ...interface{})) bsshare.SendCount {
	c := bsshare.SendCount{Date: f.Date, Groups: map[onebot.ID]int{}, Private: f.Private}
	for k, n := range f.Group {
		if k == "total" {
			c.GroupTotal = n
			continue
		}
		id, err := onebot.ParseID(k)
		if err != nil {
			warn("Ignoring send count for %s", strconv.Quote(k))
			continue
		}
		c.Groups[id] = n
	}
	return c
}

// Dir returns the configuration directory
func (s *Store) Dir() string {
	return s.dir
}

// Snapshot returns the current configuration. It must not be modified.
func (s *Store) Snapshot() *Snapshot {
	s.snapLock.RLock()
	defer s.snapLock.RUnlock()
	return s.snap
}

// Routes returns the configured routes, enabled or not
func (s *Store) Routes() []*bsshare.Route {
	return s.Snapshot().Routes
}

// Global returns the decoded global_config.json
func (s *Store) Global() *GlobalConfig {
	return s.Snapshot().Global
}

// Reload rereads the directory. On failure the previous configuration stays
// in effect. Route changes only apply to sessions accepted after a restart.
func (s *Store) Reload() error {
	snap, err := LoadDir(s.dir, s.WLogf)
	if err != nil {
		return s.WLogErrorf("Reload failed, keeping previous configuration: %s", err)
	}
	s.snapLock.Lock()
	old := s.snap
	s.snap = snap
	s.snapLock.Unlock()
	if !reflect.DeepEqual(old.Routes, snap.Routes) {
		s.WLogf("Connection configuration changed; restart to apply it")
	}
	s.ILogf("Reloaded: %d accounts, %d groups", len(snap.Accounts), len(snap.Groups))
	return nil
}

// IsAccountEnabled implements bsshare.Policy. Accounts without a file are enabled.
func (s *Store) IsAccountEnabled(selfID onebot.ID) bool {
	a, ok := s.Snapshot().Accounts[selfID]
	return !ok || a.Enabled
}

// GroupState implements bsshare.Policy
func (s *Store) GroupState(groupID onebot.ID) bsshare.GroupState {
	g, ok := s.Snapshot().Groups[groupID]
	if !ok {
		return bsshare.GroupState{Enabled: true}
	}
	return bsshare.GroupState{
		Known:            true,
		Enabled:          g.Enabled,
		Expired:          g.ExpireTime.Expired(s.now()),
		Aliases:          g.Aliases,
		SuperuserFilters: g.Filters.SuperuserFilters,
		AdminFilters:     g.Filters.AdminFilters,
	}
}

// AccountAliases implements bsshare.Policy
func (s *Store) AccountAliases(selfID onebot.ID) bsshare.AliasTable {
	if a, ok := s.Snapshot().Accounts[selfID]; ok {
		return a.Aliases
	}
	return nil
}

// GlobalPolicy implements bsshare.Policy
func (s *Store) GlobalPolicy() *bsshare.GlobalPolicy {
	return s.Snapshot().policy
}

// IsBlacklisted implements bsshare.Policy
func (s *Store) IsBlacklisted(kind bsshare.BlacklistKind, id onebot.ID) bool {
	snap := s.Snapshot()
	switch kind {
	case bsshare.BlacklistUsers:
		return snap.blackUsers[id]
	case bsshare.BlacklistGroups:
		return snap.blackGroup[id]
	}
	return false
}

// IsSuperuser implements bsshare.Policy
func (s *Store) IsSuperuser(id onebot.ID) bool {
	return s.Snapshot().superusers[id]
}

func (s *Store) today() string {
	return s.now().UTC().Format(sendCountDateLayout)
}

// activityLocked returns the account's record with its tally rolled to today
func (s *Store) activityLocked(selfID onebot.ID) *Activity {
	a, ok := s.activity[selfID]
	if !ok {
		a = &Activity{}
		s.activity[selfID] = a
	}
	if today := s.today(); a.SendCount.Date != today {
		a.SendCount = bsshare.SendCount{Date: today, Groups: map[onebot.ID]int{}}
	}
	return a
}

// TouchActivity implements bsshare.Policy
func (s *Store) TouchActivity(selfID, groupID onebot.ID, direction bsshare.Direction) bsshare.SendCount {
	now := s.now()
	s.activityLock.Lock()
	defer s.activityLock.Unlock()
	a := s.activityLocked(selfID)
	before := copySendCount(a.SendCount)
	if groupID.IsSet() {
		s.groupSeen[groupID] = now
	}
	switch direction {
	case bsshare.DirectionRecv:
		a.LastReceive = now
	case bsshare.DirectionSend:
		a.LastSend = now
		if groupID.IsSet() {
			a.SendCount.GroupTotal++
			a.SendCount.Groups[groupID]++
		} else {
			a.SendCount.Private++
		}
	}
	return before
}

// SendCount implements bsshare.Policy
func (s *Store) SendCount(selfID onebot.ID) bsshare.SendCount {
	s.activityLock.Lock()
	defer s.activityLock.Unlock()
	return copySendCount(s.activityLocked(selfID).SendCount)
}

// Activity returns a copy of what is known about an account's traffic
func (s *Store) Activity(selfID onebot.ID) Activity {
	s.activityLock.Lock()
	defer s.activityLock.Unlock()
	a := *s.activityLocked(selfID)
	a.SendCount = copySendCount(a.SendCount)
	return a
}

// GroupLastMessage returns when traffic for a group was last seen
func (s *Store) GroupLastMessage(groupID onebot.ID) (time.Time, bool) {
	s.activityLock.Lock()
	defer s.activityLock.Unlock()
	t, ok := s.groupSeen[groupID]
	return t, ok
}

func copySendCount(c bsshare.SendCount) bsshare.SendCount {
	groups := make(map[onebot.ID]int, len(c.Groups))
	for k, v := range c.Groups {
		groups[k] = v
	}
	c.Groups = groups
	return c
}

