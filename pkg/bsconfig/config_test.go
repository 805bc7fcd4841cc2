package bsconfig

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
	bsshare "github.com/Loping151/BotShepherd-sub000/share"
)

func testLogger() bsshare.Logger {
	return bsshare.NewLoggerWithWriter(io.Discard, "test", bsshare.LogLevelDebug)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const testGlobal = `{
	"superusers": ["100", "not-a-number"],
	"command_prefix": "bs",
	"global_aliases": {"ww": ["ww", "鸣潮"], "zzz": ["绝区零"]},
	"blacklist": {"groups": ["666"], "users": ["999"]},
	"allow_private": false,
	"global_filters": {"receive_filters": ["spam"], "send_filters": ["secret"], "prefix_protections": ["/"]},
	"message_normalization": {"enabled": true, "normalize_napcat_sent": true},
	"sendcount_notifications": false
}`

func TestLoadDirDefaults(t *testing.T) {
	snap, err := LoadDir(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load empty dir: %v", err)
	}
	p := snap.policy
	if p.CommandPrefix != "bs" || p.TriggerPrefix != "bs触发" || !p.AllowPrivate || !p.PrivateFriendOnly {
		t.Errorf("defaults not applied: %+v", p)
	}
	if p.NormalizeMessageSent {
		t.Errorf("normalization enabled by default")
	}
	if !p.SendCountNotifications {
		t.Errorf("send count notifications disabled by default")
	}
	if len(p.Aliases) != 1 || p.Aliases[0].Canonical != "ww" {
		t.Errorf("default aliases = %v", p.Aliases)
	}
	if snap.Global.Database.AutoExpireDays != 30 {
		t.Errorf("auto_expire_days = %d", snap.Global.Database.AutoExpireDays)
	}
}

func TestLoadDirReadsEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, GlobalConfigFile, testGlobal)
	writeFile(t, dir, "connections/b.json", `{"name":"B","client_endpoint":"ws://127.0.0.1:5801/b","target_endpoints":["ws://127.0.0.1:9000"],"enabled":false}`)
	writeFile(t, dir, "connections/a.json", `{"name":"A","client_endpoint":"ws://127.0.0.1:5800/a","target_endpoints":["ws://127.0.0.1:9000","ws://127.0.0.1:9001"]}`)
	writeFile(t, dir, "connections/notes.txt", `ignored`)
	writeFile(t, dir, "account/10.json", `{"account_id":"10","enabled":false,"aliases":{"ww":["w"]}}`)
	writeFile(t, dir, "group/30.json", `{"group_id":"30","enabled":true,"expire_time":-1,"filters":{"superuser_filters":["x"],"admin_filters":["y"]}}`)
	writeFile(t, dir, "group/broken.json", `{`)

	s, err := Open(testLogger(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	routes := s.Routes()
	if len(routes) != 2 || routes[0].ID != "a" || routes[1].ID != "b" {
		t.Fatalf("routes = %v", routes)
	}
	if !routes[0].Enabled || routes[1].Enabled || len(routes[0].TargetEndpoints) != 2 {
		t.Errorf("route fields = %+v %+v", routes[0], routes[1])
	}

	if s.IsAccountEnabled(10) || !s.IsAccountEnabled(11) {
		t.Errorf("account switches wrong")
	}
	if a := s.AccountAliases(10); len(a) != 1 || a[0].Aliases[0] != "w" {
		t.Errorf("account aliases = %v", a)
	}
	gs := s.GroupState(30)
	if !gs.Known || !gs.Enabled || gs.Expired || gs.SuperuserFilters[0] != "x" || gs.AdminFilters[0] != "y" {
		t.Errorf("group state = %+v", gs)
	}
	if gs := s.GroupState(31); gs.Known || !gs.Enabled || gs.Expired {
		t.Errorf("unknown group state = %+v", gs)
	}

	if !s.IsSuperuser(100) || s.IsSuperuser(101) {
		t.Errorf("superusers wrong")
	}
	if !s.IsBlacklisted(bsshare.BlacklistUsers, 999) || !s.IsBlacklisted(bsshare.BlacklistGroups, 666) {
		t.Errorf("blacklist not loaded")
	}
	if s.IsBlacklisted(bsshare.BlacklistGroups, 999) {
		t.Errorf("user id matched the group blacklist")
	}
	p := s.GlobalPolicy()
	if p.AllowPrivate || !p.NormalizeMessageSent || p.SendCountNotifications {
		t.Errorf("global switches = %+v", p)
	}
	if len(p.Aliases) != 2 || p.Aliases[1].Canonical != "zzz" {
		t.Errorf("global aliases lost their order: %v", p.Aliases)
	}
	if p.SendFilters[0] != "secret" || p.PrefixProtections[0] != "/" || p.ReceiveFilters[0] != "spam" {
		t.Errorf("global filters = %+v", p)
	}
}

func TestLoadDirRejectsBrokenGlobalConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, GlobalConfigFile, `{"superusers": [`)
	if _, err := LoadDir(dir, nil); err == nil {
		t.Errorf("broken global_config.json accepted")
	}
}

func TestGroupExpiry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "group/1.json", `{"expire_time":"2020-01-01T00:00:00"}`)
	writeFile(t, dir, "group/2.json", `{"expire_time":"2999-01-01T00:00:00+08:00"}`)
	writeFile(t, dir, "group/3.json", `{"expire_time":"next tuesday"}`)
	writeFile(t, dir, "group/4.json", `{}`)
	s, err := Open(testLogger(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cases := map[onebot.ID]bool{1: true, 2: false, 3: false, 4: false}
	for id, expired := range cases {
		if gs := s.GroupState(id); !gs.Known || gs.Expired != expired {
			t.Errorf("group %s: %+v, expected expired=%v", id, gs, expired)
		}
	}
}

func TestSendCountRollsOverDaily(t *testing.T) {
	dir := t.TempDir()
	today := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, dir, "account/10.json", `{"send_count":{"date":"2025-03-01","group":{"total":99,"30":7},"private":2}}`)
	writeFile(t, dir, "account/11.json", `{"send_count":{"date":"2025-02-28","group":{"total":50},"private":1}}`)
	s, err := openWithClock(testLogger(), dir, func() time.Time { return today })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if c := s.SendCount(11); c.GroupTotal != 0 || c.Private != 0 {
		t.Errorf("yesterday's tally carried over: %+v", c)
	}

	c := s.SendCount(10)
	if c.GroupTotal != 99 || c.Group(30) != 7 || c.Private != 2 {
		t.Fatalf("seeded count = %+v", c)
	}
	if before := s.TouchActivity(10, 30, bsshare.DirectionSend); before.GroupTotal != 99 || before.Group(30) != 7 {
		t.Errorf("tally returned by a send = %+v, expected the one before it", before)
	}
	s.TouchActivity(10, 0, bsshare.DirectionSend)
	s.TouchActivity(10, 30, bsshare.DirectionRecv)
	c = s.SendCount(10)
	if c.GroupTotal != 100 || c.Group(30) != 8 || c.Private != 3 {
		t.Errorf("count after sends = %+v", c)
	}
	a := s.Activity(10)
	if !a.LastSend.Equal(today) || !a.LastReceive.Equal(today) {
		t.Errorf("activity times = %+v", a)
	}
	if seen, ok := s.GroupLastMessage(30); !ok || !seen.Equal(today) {
		t.Errorf("group last message = %s %v", seen, ok)
	}

	s.now = func() time.Time { return today.Add(24 * time.Hour) }
	if c := s.SendCount(10); c.GroupTotal != 0 || c.Private != 0 || c.Date != "2025-03-02" {
		t.Errorf("count did not reset on a new day: %+v", c)
	}
}

func TestReloadKeepsPreviousConfigOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, GlobalConfigFile, testGlobal)
	s, err := Open(testLogger(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	writeFile(t, dir, GlobalConfigFile, `{`)
	if err := s.Reload(); err == nil {
		t.Fatalf("reload of a broken file succeeded")
	}
	if !s.IsSuperuser(100) {
		t.Errorf("previous configuration lost")
	}
	writeFile(t, dir, GlobalConfigFile, `{"superusers":["200"]}`)
	if err := s.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.IsSuperuser(100) || !s.IsSuperuser(200) {
		t.Errorf("reload not applied")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "group/30.json", `{"enabled":true}`)
	s, err := Open(testLogger(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w := NewWatcher(testLogger(), s, 20*time.Millisecond)
	reloaded := make(chan error, 8)
	w.OnReload = func(err error) { reloaded <- err }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	writeFile(t, dir, "group/30.json", `{"enabled":false}`)
	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload after a file change")
	}
	if s.GroupState(30).Enabled {
		t.Errorf("change not picked up")
	}

	cancel()
	select {
	case <-w.ShutdownDoneChan():
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop with its context")
	}
}
