package bsshare

import (
	"encoding/json"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

// Verdict is the outcome of one pipeline run
type Verdict int

const (
	// Forward passes the frame on byte-for-byte
	Forward Verdict = iota
	// ForwardModified passes on a re-encoded, modified frame
	ForwardModified
	// Drop discards the frame
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case ForwardModified:
		return "forward-modified"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// Decision is the verdict plus a human-readable reason
type Decision struct {
	Verdict Verdict
	Reason  string
}

// InboundResult is the outcome of running a client frame through the pipeline
type InboundResult struct {
	Decision

	// Frame is the frame to forward; it differs from the input only for ForwardModified
	Frame onebot.Frame

	// Command is set when the message carries the local command prefix. Such
	// a message goes to the Dispatcher and is never forwarded to targets.
	Command *onebot.MessageEvent
}

// OutboundResult is the outcome of running a target's action request through the pipeline
type OutboundResult struct {
	Decision
	Request *onebot.ActionRequest
}

// Pipeline is the ordered set of stages every frame passes through.
// Inbound: normalize, identity gate, private gate, alias rewrite, receive
// filter. Outbound: normalize, send filter, prefix protection, usage
// decoration. No stage blocks on I/O.
type Pipeline struct {
	logger    Logger
	routeID   string
	policy    Policy
	store     Persistence
	newMarker func() string
	now       func() time.Time
}

// NewPipeline creates a pipeline for one route. store may be nil.
func NewPipeline(logger Logger, routeID string, policy Policy, store Persistence) *Pipeline {
	if store == nil {
		store = NopPersistence{}
	}
	return &Pipeline{
		logger:    logger,
		routeID:   routeID,
		policy:    policy,
		store:     store,
		newMarker: newAliasMarker,
		now:       time.Now,
	}
}

func drop(reason string) Decision {
	return Decision{Verdict: Drop, Reason: reason}
}

// Inbound runs a client frame through the inbound stages. Only message
// events are gated and rewritten; everything else is forwarded untouched.
// selfID is the session's bound account.
func (p *Pipeline) Inbound(selfID onebot.ID, f onebot.Frame) InboundResult {
	orig, ok := f.(*onebot.MessageEvent)
	if !ok {
		return InboundResult{Decision: Decision{Verdict: Forward}, Frame: f}
	}
	if !selfID.IsSet() {
		selfID = orig.SelfID
	}
	gp := p.policy.GlobalPolicy()
	ev := orig.Clone()
	modified := false

	// normalize
	if ev.MessageWasString {
		modified = true
	}
	if gp.NormalizeMessageSent && ev.PostType == onebot.PostMessageSent {
		ev.PostType = onebot.PostMessage
		modified = true
	}

	isSuperuser := p.policy.IsSuperuser(ev.UserID)
	bypass := isSuperuser || ev.UserID == selfID
	var gs GroupState
	if ev.IsGroup() {
		gs = p.policy.GroupState(ev.GroupID)
	}

	if !bypass {
		if reason := p.identityGate(gp, gs, selfID, ev); reason != "" {
			return p.dropInbound(ev, reason)
		}
		if reason := privateGate(gp, ev); reason != "" {
			return p.dropInbound(ev, reason)
		}
	}

	// alias rewrite, leading text segment only
	if i := ev.Message.FirstText(); i >= 0 {
		scopes := []aliasScope{
			{"global", gp.Aliases},
			{"account", p.policy.AccountAliases(selfID)},
		}
		if ev.IsGroup() {
			scopes = append(scopes, aliasScope{"group", gs.Aliases})
		}
		text := ev.Message[i].Text()
		if rewritten, scope, matched := rewriteAlias(scopes, text, p.newMarker); matched && rewritten != text {
			msg := ev.Message.Clone()
			msg[i].Set("text", rewritten)
			ev.SetMessage(msg)
			modified = true
			p.logger.DLogf("Applied %s alias: \"%s\" -> \"%s\"", scope, onebot.Abbrev(text, 40), onebot.Abbrev(rewritten, 40))
		}
	}

	if reason := receiveFilter(gp, gs, isSuperuser, ev); reason != "" {
		return p.dropInbound(ev, reason)
	}

	p.policy.TouchActivity(selfID, ev.GroupID, DirectionRecv)
	p.store.RecordMessage(p.recordFromEvent(selfID, ev))

	res := InboundResult{Decision: Decision{Verdict: Forward}, Frame: orig}
	if modified {
		res.Decision = Decision{Verdict: ForwardModified, Reason: "normalized"}
		res.Frame = ev
	}
	if ev.Message.HasCommandPrefix(gp.CommandPrefix) {
		res.Command = ev
	}
	return res
}

// identityGate checks the account, group and blacklist state for a sender
// that is neither a superuser nor the bot itself
func (p *Pipeline) identityGate(gp *GlobalPolicy, gs GroupState, selfID onebot.ID, ev *onebot.MessageEvent) string {
	if !p.policy.IsAccountEnabled(selfID) {
		return "account " + selfID.String() + " disabled"
	}
	if ev.IsGroup() && gs.Known {
		if gs.Expired {
			return "group " + ev.GroupID.String() + " expired"
		}
		if !gs.Enabled && !(ev.IsSenderAdmin() && ev.Message.HasCommandPrefix(gp.CommandPrefix)) {
			return "group " + ev.GroupID.String() + " disabled"
		}
	}
	if p.policy.IsBlacklisted(BlacklistUsers, ev.UserID) {
		return "user " + ev.UserID.String() + " blacklisted"
	}
	if ev.IsGroup() && p.policy.IsBlacklisted(BlacklistGroups, ev.GroupID) {
		return "group " + ev.GroupID.String() + " blacklisted"
	}
	return ""
}

// privateGate enforces the private message switches
func privateGate(gp *GlobalPolicy, ev *onebot.MessageEvent) string {
	if !ev.IsPrivate() {
		return ""
	}
	if !gp.AllowPrivate {
		return "private messages disabled"
	}
	if gp.PrivateFriendOnly && ev.SubType != "friend" {
		return "private message from non-friend (" + ev.SubType + ")"
	}
	return ""
}

func (p *Pipeline) dropInbound(ev *onebot.MessageEvent, reason string) InboundResult {
	p.logger.ILogf("Dropped message from user=%s group=%s: %s", ev.UserID, ev.GroupID, reason)
	return InboundResult{Decision: drop(reason)}
}

// Outbound runs a target's action request through the outbound stages.
// Only send actions carrying a message are inspected.
func (p *Pipeline) Outbound(selfID onebot.ID, req *onebot.ActionRequest) OutboundResult {
	pass := OutboundResult{Decision: Decision{Verdict: Forward}, Request: req}
	if !req.IsSend() || !req.HasMessage() {
		return pass
	}
	msg, wasString, err := req.Message()
	if err != nil {
		p.logger.WLogf("Forwarding %s with undecodable message unchanged: %s", req.Action, err)
		return pass
	}
	gp := p.policy.GlobalPolicy()
	modified := wasString

	if reason := sendFilter(gp, msg); reason != "" {
		p.logger.ILogf("Dropped %s to user=%s group=%s: %s", req.Action, req.UserID(), req.GroupID(), reason)
		return OutboundResult{Decision: drop(reason)}
	}
	if prefix := protectPrefix(gp, msg); prefix != "" {
		p.logger.ILogf("Marked outbound message starting with protected prefix \"%s\"", prefix)
		modified = true
	}

	// the tally this send was counted against decides its footer
	count := p.policy.TouchActivity(selfID, req.GroupID(), DirectionSend)
	if gp.SendCountNotifications {
		var changed bool
		msg, changed = decorate(count, req.GroupID(), msg)
		modified = modified || changed
	}
	p.store.RecordMessage(p.recordFromRequest(selfID, req, msg))

	if !modified {
		return pass
	}
	out := req.Clone()
	out.SetMessage(msg)
	return OutboundResult{Decision: Decision{Verdict: ForwardModified, Reason: "rewritten"}, Request: out}
}

func (p *Pipeline) recordFromEvent(selfID onebot.ID, ev *onebot.MessageEvent) MessageRecord {
	segs, _ := json.Marshal(ev.Message)
	t := p.now()
	if ev.Time > 0 {
		t = time.Unix(ev.Time, 0)
	}
	return MessageRecord{
		Direction:   DirectionRecv,
		RouteID:     p.routeID,
		SelfID:      selfID,
		UserID:      ev.UserID,
		GroupID:     ev.GroupID,
		MessageType: ev.MessageType,
		MessageID:   ev.MessageID,
		Text:        ev.Message.PlainText(),
		Segments:    segs,
		Time:        t,
	}
}

func (p *Pipeline) recordFromRequest(selfID onebot.ID, req *onebot.ActionRequest, msg onebot.Message) MessageRecord {
	segs, _ := json.Marshal(msg)
	return MessageRecord{
		Direction:   DirectionSend,
		RouteID:     p.routeID,
		SelfID:      selfID,
		UserID:      req.UserID(),
		GroupID:     req.GroupID(),
		MessageType: req.MessageType(),
		Text:        msg.PlainText(),
		Segments:    segs,
		Time:        p.now(),
	}
}
