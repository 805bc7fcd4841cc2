package onebot

import (
	"strings"
)

// Actions this package builds itself
const (
	ActionSendGroupMsg   = "send_group_msg"
	ActionSendPrivateMsg = "send_private_msg"
	ActionSendMsg        = "send_msg"
)

// ActionRequest is an API call issued by a bot framework
type ActionRequest struct {
	fields Object
	Action string
	Params Object
	Echo   Echo
}

// NewActionRequest builds a request from scratch
func NewActionRequest(action string, params Object, echo Echo) *ActionRequest {
	if params == nil {
		params = Object{}
	}
	return &ActionRequest{fields: Object{}, Action: action, Params: params, Echo: echo}
}

// NewSendGroupMsg builds a send_group_msg call
func NewSendGroupMsg(groupID ID, msg Message) *ActionRequest {
	params := Object{}
	params.Set("group_id", groupID)
	params.Set("message", msg)
	return NewActionRequest(ActionSendGroupMsg, params, Echo{})
}

// NewSendPrivateMsg builds a send_private_msg call
func NewSendPrivateMsg(userID ID, msg Message) *ActionRequest {
	params := Object{}
	params.Set("user_id", userID)
	params.Set("message", msg)
	return NewActionRequest(ActionSendPrivateMsg, params, Echo{})
}

// Kind implements Frame
func (*ActionRequest) Kind() Kind { return KindActionRequest }

// IsSend returns true for the family of actions that deliver a message
func (r *ActionRequest) IsSend() bool {
	return strings.Contains(r.Action, "send")
}

// GroupID returns params.group_id
func (r *ActionRequest) GroupID() ID {
	return r.Params.GetID("group_id")
}

// UserID returns params.user_id
func (r *ActionRequest) UserID() ID {
	return r.Params.GetID("user_id")
}

// MessageType returns params.message_type, inferring it from the target ids
// when absent
func (r *ActionRequest) MessageType() string {
	if t := r.Params.GetString("message_type"); t != "" {
		return t
	}
	if r.GroupID().IsSet() {
		return MessageTypeGroup
	}
	return MessageTypePrivate
}

// HasMessage returns true if params carries a message body
func (r *ActionRequest) HasMessage() bool {
	return r.Params.Has("message")
}

// Message decodes params.message, honoring params.auto_escape
func (r *ActionRequest) Message() (msg Message, wasString bool, err error) {
	return DecodeMessage(r.Params["message"], r.Params.GetBool("auto_escape"))
}

// SetMessage stores m as params.message in array form
func (r *ActionRequest) SetMessage(m Message) {
	r.Params = r.Params.Clone()
	r.Params.Set("message", m)
	if r.Params.Has("auto_escape") {
		delete(r.Params, "auto_escape")
	}
	if r.fields.Has("message_format") {
		r.fields = r.fields.Clone()
		r.fields.Set("message_format", "array")
	}
}

// Clone returns a copy that can be modified without affecting r
func (r *ActionRequest) Clone() *ActionRequest {
	c := *r
	c.fields = r.fields.Clone()
	c.Params = r.Params.Clone()
	return &c
}

func (r *ActionRequest) encode() Object {
	out := r.fields.Clone()
	out.Set("action", r.Action)
	out["params"], _ = marshalNoEscape(r.Params)
	if raw := r.Echo.Raw(); raw != nil {
		out["echo"] = raw
	}
	return out
}
