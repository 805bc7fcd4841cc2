package bsshare

import (
	"testing"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

func TestEchoTableRoutesToIssuer(t *testing.T) {
	tbl := NewEchoTable(testLogger())
	tbl.Insert(onebot.EchoString("a"), 1, nil)
	tbl.Insert(onebot.EchoFromRaw([]byte(`7`)), 2, nil)

	if e, ok := tbl.Take(onebot.EchoFromRaw([]byte(`7`))); !ok || e.TargetIndex != 2 {
		t.Errorf("numeric echo routed to %v, expected target 2", e)
	}
	if _, ok := tbl.Take(onebot.EchoString("7")); ok {
		t.Errorf("string \"7\" matched numeric echo 7")
	}
	if e, ok := tbl.Take(onebot.EchoString("a")); !ok || e.TargetIndex != 1 {
		t.Errorf("echo \"a\" routed to %v, expected target 1", e)
	}
	if _, ok := tbl.Take(onebot.EchoString("a")); ok {
		t.Errorf("entry survived Take")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, expected 0", tbl.Len())
	}
}

func TestEchoTableIgnoresUnsetEcho(t *testing.T) {
	tbl := NewEchoTable(testLogger())
	tbl.Insert(onebot.Echo{}, 1, nil)
	tbl.Insert(onebot.EchoString(""), 1, nil)
	if tbl.Len() != 0 {
		t.Errorf("unset echoes entered the table")
	}
}

func TestEchoTableLastWriterWins(t *testing.T) {
	tbl := NewEchoTable(testLogger())
	tbl.Insert(onebot.EchoString("dup"), 1, nil)
	tbl.Insert(onebot.EchoString("dup"), 3, nil)
	e, ok := tbl.Take(onebot.EchoString("dup"))
	if !ok || e.TargetIndex != 3 {
		t.Errorf("collision routed to %v, expected target 3", e)
	}
}

func TestEchoTablePrunesOldEntries(t *testing.T) {
	tbl := NewEchoTable(testLogger())
	now := time.Unix(1700000000, 0)
	tbl.now = func() time.Time { return now }
	tbl.Insert(onebot.EchoString("old"), 1, nil)
	now = now.Add(echoTTL + time.Second)
	tbl.Insert(onebot.EchoString("new"), 1, nil)

	if n := tbl.Prune(); n != 1 {
		t.Errorf("Prune evicted %d, expected 1", n)
	}
	if _, ok := tbl.Take(onebot.EchoString("new")); !ok {
		t.Errorf("fresh entry was evicted")
	}
}

func TestEchoTablePrunesOnMultiplesOfHundred(t *testing.T) {
	tbl := NewEchoTable(testLogger())
	now := time.Unix(1700000000, 0)
	tbl.now = func() time.Time { return now }
	for i := 0; i < echoPruneEvery-1; i++ {
		tbl.Insert(onebot.EchoString(string(rune('a'+i%26))+time.Duration(i).String()), 1, nil)
	}
	now = now.Add(echoTTL + time.Second)
	tbl.Insert(onebot.EchoString("last"), 1, nil)
	if tbl.Len() != 1 {
		t.Errorf("Len = %d after the hundredth insert, expected only the fresh entry", tbl.Len())
	}
}
