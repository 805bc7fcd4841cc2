package onebot

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of a decoded Frame
type Kind int

const (
	// KindMessage is a message event (post_type "message" or "message_sent")
	KindMessage Kind = iota + 1
	// KindNotice is a notice event
	KindNotice
	// KindRequest is a friend/group request event
	KindRequest
	// KindMeta is a meta event (lifecycle, heartbeat)
	KindMeta
	// KindActionRequest is an API call
	KindActionRequest
	// KindActionResponse is the answer to an API call
	KindActionResponse
)

var kindNames = [...]string{"unknown", "message", "notice", "request", "meta_event", "action", "response"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[0]
	}
	return kindNames[k]
}

// Post types
const (
	PostMessage     = "message"
	PostMessageSent = "message_sent"
	PostNotice      = "notice"
	PostRequest     = "request"
	PostMeta        = "meta_event"
)

// Frame is one decoded wire message. The concrete type is one of
// *MessageEvent, *NoticeEvent, *RequestEvent, *MetaEvent, *ActionRequest or
// *ActionResponse.
type Frame interface {
	Kind() Kind
	// encode writes the modeled fields back over the retained member set
	encode() Object
}

// MalformedFrameError is returned by Parse for frames that are not JSON
// objects or cannot be classified. It never implies the connection is bad.
type MalformedFrameError struct {
	Reason string
	Raw    []byte
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s: %s", e.Reason, Abbrev(string(e.Raw), 200))
}

// Parse decodes and classifies one wire frame
func Parse(raw []byte) (Frame, error) {
	obj, err := DecodeObject(raw)
	if err != nil {
		return nil, &MalformedFrameError{Reason: err.Error(), Raw: raw}
	}
	if obj.Has("post_type") {
		postType := obj.GetString("post_type")
		switch postType {
		case PostMessage, PostMessageSent:
			return newMessageEvent(obj, raw)
		case PostNotice:
			return &NoticeEvent{EventHeader: newEventHeader(obj), NoticeType: obj.GetString("notice_type"),
				SubType: obj.GetString("sub_type"), UserID: obj.GetID("user_id"), GroupID: obj.GetID("group_id")}, nil
		case PostRequest:
			return &RequestEvent{EventHeader: newEventHeader(obj), RequestType: obj.GetString("request_type"),
				SubType: obj.GetString("sub_type"), UserID: obj.GetID("user_id"), GroupID: obj.GetID("group_id")}, nil
		case PostMeta:
			return &MetaEvent{EventHeader: newEventHeader(obj), MetaEventType: obj.GetString("meta_event_type"),
				SubType: obj.GetString("sub_type")}, nil
		}
		return nil, &MalformedFrameError{Reason: fmt.Sprintf("unknown post_type \"%s\"", postType), Raw: raw}
	}
	if obj.Has("action") {
		action := obj.GetString("action")
		if action == "" {
			return nil, &MalformedFrameError{Reason: "empty action", Raw: raw}
		}
		params := obj.GetObject("params")
		if params == nil {
			params = Object{}
		}
		return &ActionRequest{fields: obj, Action: action, Params: params, Echo: EchoFromRaw(obj["echo"])}, nil
	}
	if obj.Has("status") || obj.Has("retcode") {
		return &ActionResponse{fields: obj, Status: obj.GetString("status"), RetCode: obj.GetInt("retcode"),
			Data: obj["data"], Echo: EchoFromRaw(obj["echo"])}, nil
	}
	return nil, &MalformedFrameError{Reason: "not an event, action or response", Raw: raw}
}

// Encode serializes a frame, including every member it was parsed with
func Encode(f Frame) ([]byte, error) {
	return marshalNoEscape(f.encode())
}

// SelfIDOf returns the self_id carried by a frame, if any
func SelfIDOf(f Frame) ID {
	switch v := f.(type) {
	case *MessageEvent:
		return v.SelfID
	case *NoticeEvent:
		return v.SelfID
	case *RequestEvent:
		return v.SelfID
	case *MetaEvent:
		return v.SelfID
	}
	return 0
}

// EventHeader holds the members common to every event
type EventHeader struct {
	fields   Object
	PostType string
	Time     int64
	SelfID   ID
}

func newEventHeader(obj Object) EventHeader {
	return EventHeader{fields: obj, PostType: obj.GetString("post_type"), Time: obj.GetInt("time"), SelfID: obj.GetID("self_id")}
}

func (h *EventHeader) encodeHeader() Object {
	out := h.fields.Clone()
	out.Set("post_type", h.PostType)
	return out
}

// NoticeEvent is a post_type "notice" event
type NoticeEvent struct {
	EventHeader
	NoticeType string
	SubType    string
	UserID     ID
	GroupID    ID
}

// Kind implements Frame
func (*NoticeEvent) Kind() Kind { return KindNotice }

func (e *NoticeEvent) encode() Object { return e.encodeHeader() }

// RequestEvent is a post_type "request" event
type RequestEvent struct {
	EventHeader
	RequestType string
	SubType     string
	UserID      ID
	GroupID     ID
}

// Kind implements Frame
func (*RequestEvent) Kind() Kind { return KindRequest }

func (e *RequestEvent) encode() Object { return e.encodeHeader() }

// MetaEvent is a post_type "meta_event" event
type MetaEvent struct {
	EventHeader
	MetaEventType string
	SubType       string
}

// Kind implements Frame
func (*MetaEvent) Kind() Kind { return KindMeta }

func (e *MetaEvent) encode() Object { return e.encodeHeader() }

// ActionResponse is the client's answer to an ActionRequest
type ActionResponse struct {
	fields  Object
	Status  string
	RetCode int64
	Data    json.RawMessage
	Echo    Echo
}

// Kind implements Frame
func (*ActionResponse) Kind() Kind { return KindActionResponse }

func (r *ActionResponse) encode() Object { return r.fields.Clone() }

// OK returns true for a successful call
func (r *ActionResponse) OK() bool {
	return r.RetCode == 0 && (r.Status == "" || r.Status == "ok" || r.Status == "async")
}
