package bsshare

import (
	"strings"
	"testing"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

func TestUsageFooterTiers(t *testing.T) {
	g := onebot.ID(30)
	cases := []struct {
		name    string
		total   int
		inGroup int
		footer  bool
	}{
		{"99th", 98, 5, false},
		{"100th", 99, 5, true},
		{"101st", 100, 5, false},
		{"3025th", 3024, 1, true},
		{"10th in group past 3000", 3000, 9, true},
		{"neither past 3000", 3001, 3, false},
		{"5th in group past quota", 4100, 4, true},
		{"25th overall past quota", 4124, 1, false},
	}
	for _, c := range cases {
		count := SendCount{GroupTotal: c.total, Groups: map[onebot.ID]int{g: c.inGroup}}
		if got := usageFooter(count, g) != ""; got != c.footer {
			t.Errorf("%s: footer = %v, expected %v", c.name, got, c.footer)
		}
	}
	if f := usageFooter(SendCount{Private: 9}, 0); !strings.Contains(f, "私聊已发送10") {
		t.Errorf("private 10th footer = %q", f)
	}
	if f := usageFooter(SendCount{Private: 10}, 0); f != "" {
		t.Errorf("private 11th footer = %q", f)
	}
}

func TestDecorateSkipsRichMessages(t *testing.T) {
	count := SendCount{GroupTotal: 99, Groups: map[onebot.ID]int{}}
	msg := onebot.Message{onebot.TextSegment("x"), {Type: onebot.SegmentFace, Data: onebot.Object{}}}
	if _, changed := decorate(count, 30, msg); changed {
		t.Errorf("message with a face segment was decorated")
	}
	out, changed := decorate(count, 30, onebot.Message{onebot.AtSegment(5), onebot.TextSegment("x")})
	if !changed || len(out) != 3 {
		t.Errorf("plain message not decorated: %v", out)
	}
}
