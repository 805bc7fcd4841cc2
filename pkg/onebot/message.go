package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Well-known segment types
const (
	SegmentText  = "text"
	SegmentAt    = "at"
	SegmentImage = "image"
	SegmentReply = "reply"
	SegmentFace  = "face"
)

// Segment is one element of an array-form message
type Segment struct {
	Type string
	Data Object
}

// TextSegment builds a plain text segment
func TextSegment(text string) Segment {
	s := Segment{Type: SegmentText, Data: Object{}}
	s.Set("text", text)
	return s
}

// ReplySegment builds a segment quoting an earlier message
func ReplySegment(messageID string) Segment {
	s := Segment{Type: SegmentReply, Data: Object{}}
	s.Set("id", messageID)
	return s
}

// AtSegment builds a mention segment
func AtSegment(id ID) Segment {
	s := Segment{Type: SegmentAt, Data: Object{}}
	s.Set("qq", id.String())
	return s
}

// Get returns a data member as a string
func (s Segment) Get(key string) string {
	return s.Data.GetString(key)
}

// Set stores a string data member
func (s *Segment) Set(key, value string) {
	if s.Data == nil {
		s.Data = Object{}
	}
	s.Data.Set(key, value)
}

// IsText returns true for text segments
func (s Segment) IsText() bool {
	return s.Type == SegmentText
}

// Text returns the text of a text segment, or ""
func (s Segment) Text() string {
	if !s.IsText() {
		return ""
	}
	return s.Get("text")
}

// MarshalJSON emits the {"type":..., "data":{...}} form
func (s Segment) MarshalJSON() ([]byte, error) {
	data := s.Data
	if data == nil {
		data = Object{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data Object `json:"data"`
	}{s.Type, data})
}

// UnmarshalJSON accepts the object form, and also a bare string which some
// implementations emit for plain text
func (s *Segment) UnmarshalJSON(b []byte) error {
	if text, ok := decodeString(b); ok {
		*s = TextSegment(text)
		return nil
	}
	obj, err := DecodeObject(b)
	if err != nil {
		return fmt.Errorf("invalid message segment: %s", err)
	}
	s.Type = obj.GetString("type")
	if s.Type == "" {
		return fmt.Errorf("message segment without type")
	}
	s.Data = obj.GetObject("data")
	if s.Data == nil {
		s.Data = Object{}
	}
	return nil
}

// Message is the canonical array form of a message body
type Message []Segment

// DecodeMessage decodes a message body that may be in array form or string
// form. String bodies are parsed as CQ code unless autoEscape is set, in which
// case the whole string is one text segment. wasString reports which form was
// found.
func DecodeMessage(raw json.RawMessage, autoEscape bool) (msg Message, wasString bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Message{}, false, nil
	}
	if s, ok := decodeString(raw); ok {
		if autoEscape {
			return Message{TextSegment(s)}, true, nil
		}
		return ParseCQString(s), true, nil
	}
	if raw[0] == '{' {
		var seg Segment
		if err := seg.UnmarshalJSON(raw); err != nil {
			return nil, false, err
		}
		return Message{seg}, false, nil
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false, fmt.Errorf("invalid message body: %s", err)
	}
	if msg == nil {
		msg = Message{}
	}
	return msg, false, nil
}

// PlainText concatenates every text segment
func (m Message) PlainText() string {
	var b strings.Builder
	for _, seg := range m {
		b.WriteString(seg.Text())
	}
	return b.String()
}

// FirstText returns the index of the first text segment, or -1
func (m Message) FirstText() int {
	for i, seg := range m {
		if seg.IsText() {
			return i
		}
	}
	return -1
}

// HasCommandPrefix returns true if the message's text, ignoring surrounding
// whitespace, starts with prefix. An empty prefix never matches.
func (m Message) HasCommandPrefix(prefix string) bool {
	return prefix != "" && strings.HasPrefix(strings.TrimSpace(m.PlainText()), prefix)
}

// ParseCommand splits a prefixed message into a command name and its
// whitespace-separated arguments. ok is false if the message does not start
// with prefix or nothing follows it.
func (m Message) ParseCommand(prefix string) (name string, args []string, ok bool) {
	if !m.HasCommandPrefix(prefix) {
		return "", nil, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m.PlainText()), prefix))
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

// Types returns the set of segment types present in the message
func (m Message) Types() map[string]bool {
	types := make(map[string]bool, len(m))
	for _, seg := range m {
		types[seg.Type] = true
	}
	return types
}

// Clone deep-copies the segment slice and each segment's data
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	c := make(Message, len(m))
	for i, seg := range m {
		c[i] = Segment{Type: seg.Type, Data: seg.Data.Clone()}
	}
	return c
}
