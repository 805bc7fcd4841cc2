package onebot

// Message types
const (
	MessageTypePrivate = "private"
	MessageTypeGroup   = "group"
)

// Sender roles as reported in group messages
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Sender is the sender block of a message event
type Sender struct {
	UserID   ID
	Nickname string
	Card     string
	Role     string
}

// MessageEvent is a post_type "message" (or NapCat's "message_sent") event
type MessageEvent struct {
	EventHeader
	MessageType string
	SubType     string
	MessageID   int64
	UserID      ID
	GroupID     ID
	Sender      Sender
	Message     Message
	RawMessage  string

	// MessageWasString is true if the body arrived in CQ-code string form
	MessageWasString bool

	hasRawMessage bool
}

func newMessageEvent(obj Object, raw []byte) (*MessageEvent, error) {
	msg, wasString, err := DecodeMessage(obj["message"], false)
	if err != nil {
		return nil, &MalformedFrameError{Reason: err.Error(), Raw: raw}
	}
	sender := obj.GetObject("sender")
	e := &MessageEvent{
		EventHeader:      newEventHeader(obj),
		MessageType:      obj.GetString("message_type"),
		SubType:          obj.GetString("sub_type"),
		MessageID:        obj.GetInt("message_id"),
		UserID:           obj.GetID("user_id"),
		GroupID:          obj.GetID("group_id"),
		Message:          msg,
		RawMessage:       obj.GetString("raw_message"),
		MessageWasString: wasString,
		hasRawMessage:    obj.Has("raw_message"),
	}
	if sender != nil {
		e.Sender = Sender{
			UserID:   sender.GetID("user_id"),
			Nickname: sender.GetString("nickname"),
			Card:     sender.GetString("card"),
			Role:     sender.GetString("role"),
		}
	}
	return e, nil
}

// Kind implements Frame
func (*MessageEvent) Kind() Kind { return KindMessage }

// IsGroup returns true for group messages
func (e *MessageEvent) IsGroup() bool {
	return e.MessageType == MessageTypeGroup || (e.MessageType == "" && e.GroupID.IsSet())
}

// IsPrivate returns true for private messages
func (e *MessageEvent) IsPrivate() bool {
	return e.MessageType == MessageTypePrivate
}

// IsSenderAdmin returns true if the sender is a group owner or admin
func (e *MessageEvent) IsSenderAdmin() bool {
	return e.Sender.Role == RoleOwner || e.Sender.Role == RoleAdmin
}

// SetMessage replaces the body and regenerates raw_message to match
func (e *MessageEvent) SetMessage(m Message) {
	e.Message = m
	e.RawMessage = m.CQString()
	e.hasRawMessage = true
}

// Clone returns a copy that can be modified without affecting e
func (e *MessageEvent) Clone() *MessageEvent {
	c := *e
	c.fields = e.fields.Clone()
	c.Message = e.Message.Clone()
	return &c
}

func (e *MessageEvent) encode() Object {
	out := e.encodeHeader()
	out.Set("message", e.Message)
	if e.hasRawMessage {
		out.Set("raw_message", e.RawMessage)
	}
	if out.Has("message_format") {
		out.Set("message_format", "array")
	}
	return out
}
