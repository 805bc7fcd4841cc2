package bsshare

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

// Direction tells collaborators which way a frame was travelling
type Direction int

const (
	// DirectionRecv is client to targets
	DirectionRecv Direction = iota + 1
	// DirectionSend is targets to client
	DirectionSend
)

func (d Direction) String() string {
	switch d {
	case DirectionRecv:
		return "RECV"
	case DirectionSend:
		return "SEND"
	}
	return "UNKNOWN"
}

// BlacklistKind selects which blacklist IsBlacklisted consults
type BlacklistKind string

const (
	// BlacklistUsers holds sender ids
	BlacklistUsers BlacklistKind = "users"
	// BlacklistGroups holds group ids
	BlacklistGroups BlacklistKind = "groups"
)

// GroupState is the per-group policy snapshot used by the gate, alias and filter stages
type GroupState struct {
	// Known is false when no configuration exists for the group; an unknown
	// group is enabled and never expires
	Known   bool
	Enabled bool
	Expired bool
	Aliases AliasTable

	// SuperuserFilters apply to everybody in the group
	SuperuserFilters []string

	// AdminFilters apply to everybody but superusers
	AdminFilters []string
}

// GlobalPolicy is the process-wide policy snapshot
type GlobalPolicy struct {
	Aliases           AliasTable
	ReceiveFilters    []string
	SendFilters       []string
	PrefixProtections []string
	Superusers        []onebot.ID
	CommandPrefix     string
	TriggerPrefix     string

	// CommandIgnoreAtOther makes the dispatcher ignore commands that mention
	// somebody other than the bot
	CommandIgnoreAtOther bool

	AllowPrivate      bool
	PrivateFriendOnly bool

	// NormalizeMessageSent turns NapCat "message_sent" events into ordinary
	// "message" events before they enter the pipeline
	NormalizeMessageSent bool

	// SendCountNotifications enables the usage footer on outbound messages
	SendCountNotifications bool
}

// SendCount is an account's message tally for the current day
type SendCount struct {
	Date       string
	GroupTotal int
	Groups     map[onebot.ID]int
	Private    int
}

// Group returns the tally for one group
func (c SendCount) Group(id onebot.ID) int {
	return c.Groups[id]
}

// Policy answers every policy question the pipeline asks. Implementations
// must be safe for concurrent use and must not block on I/O.
type Policy interface {
	IsAccountEnabled(selfID onebot.ID) bool
	GroupState(groupID onebot.ID) GroupState
	AccountAliases(selfID onebot.ID) AliasTable
	GlobalPolicy() *GlobalPolicy
	IsBlacklisted(kind BlacklistKind, id onebot.ID) bool
	IsSuperuser(id onebot.ID) bool

	// TouchActivity records that an account, and a group when groupID is
	// set, saw traffic. For DirectionSend it also advances the send tally
	// and returns the tally as it was just before, read and advanced under
	// one lock, so each send sees a distinct count.
	TouchActivity(selfID, groupID onebot.ID, direction Direction) SendCount

	// SendCount returns the account's current send tally
	SendCount(selfID onebot.ID) SendCount
}

// MessageRecord is the normalized form handed to Persistence
type MessageRecord struct {
	Direction   Direction
	RouteID     string
	SelfID      onebot.ID
	UserID      onebot.ID
	GroupID     onebot.ID
	MessageType string
	MessageID   int64
	Text        string
	Segments    json.RawMessage
	Time        time.Time
}

// Persistence is a fire-and-forget sink for accepted messages. RecordMessage
// must not block the caller on I/O.
type Persistence interface {
	RecordMessage(rec MessageRecord)
}

// Dispatcher runs local commands. TryHandle receives a message event that
// already passed the pipeline and starts with the command prefix; it may
// return a reply to deliver to the client. It never touches sockets.
type Dispatcher interface {
	TryHandle(ctx context.Context, event *onebot.MessageEvent) *onebot.ActionRequest
}

// NopPersistence discards records
type NopPersistence struct{}

// RecordMessage implements Persistence
func (NopPersistence) RecordMessage(MessageRecord) {}
