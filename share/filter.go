package bsshare

import (
	"strings"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

// ProtectionMarker is prepended to outbound text that starts with a
// protected prefix, so that a chained bot will not treat it as a command
const ProtectionMarker = "[禁止诱导触发]"

// MatchRule reports whether text satisfies a filter rule. "a+b" requires
// every part, "a|b" requires any part, anything else is a plain substring.
// Empty parts are ignored; a rule with no non-empty parts never matches.
func MatchRule(rule, text string) bool {
	switch {
	case rule == "":
		return false
	case strings.Contains(rule, "+"):
		seen := false
		for _, part := range strings.Split(rule, "+") {
			if part == "" {
				continue
			}
			if !strings.Contains(text, part) {
				return false
			}
			seen = true
		}
		return seen
	case strings.Contains(rule, "|"):
		for _, part := range strings.Split(rule, "|") {
			if part != "" && strings.Contains(text, part) {
				return true
			}
		}
		return false
	}
	return strings.Contains(text, rule)
}

// firstMatchingRule returns the first rule text satisfies
func firstMatchingRule(rules []string, text string) (string, bool) {
	for _, r := range rules {
		if MatchRule(r, text) {
			return r, true
		}
	}
	return "", false
}

// filterText is the text receive filters are matched against: the CQ form
// of the message so that media and mentions can be filtered too
func filterText(ev *onebot.MessageEvent) string {
	if ev.RawMessage != "" {
		return ev.RawMessage
	}
	return ev.Message.CQString()
}

// receiveFilter returns a drop reason, or "" if the event passes. Command
// prefixed messages are exempt. Group filters see the text with the bot's
// and the sender's ids appended, so an id can be used as a rule to silence
// a bot or a member in one group.
func receiveFilter(gp *GlobalPolicy, gs GroupState, isSuperuser bool, ev *onebot.MessageEvent) string {
	text := filterText(ev)
	if text == "" || ev.Message.HasCommandPrefix(gp.CommandPrefix) {
		return ""
	}
	if rule, ok := firstMatchingRule(gp.ReceiveFilters, text); ok {
		return "global receive filter \"" + rule + "\""
	}
	if !ev.IsGroup() || !gs.Known {
		return ""
	}
	groupText := text + ev.SelfID.String() + ev.UserID.String()
	if rule, ok := firstMatchingRule(gs.SuperuserFilters, groupText); ok {
		return "group superuser filter \"" + rule + "\""
	}
	if !isSuperuser {
		if rule, ok := firstMatchingRule(gs.AdminFilters, groupText); ok {
			return "group admin filter \"" + rule + "\""
		}
	}
	return ""
}

// sendFilter returns a drop reason, or "" if the outbound message passes
func sendFilter(gp *GlobalPolicy, msg onebot.Message) string {
	text := msg.PlainText()
	if text == "" {
		return ""
	}
	if rule, ok := firstMatchingRule(gp.SendFilters, text); ok {
		return "global send filter \"" + rule + "\""
	}
	return ""
}

// protectPrefix marks the leading text segment if it starts with a protected
// prefix. It returns the matched prefix, or "" if msg was left alone.
func protectPrefix(gp *GlobalPolicy, msg onebot.Message) string {
	i := msg.FirstText()
	if i < 0 {
		return ""
	}
	text := msg[i].Text()
	prefixes := gp.PrefixProtections
	if gp.TriggerPrefix != "" {
		prefixes = append(append([]string(nil), prefixes...), gp.TriggerPrefix)
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(text, p) {
			msg[i].Set("text", ProtectionMarker+text)
			return p
		}
	}
	return ""
}
