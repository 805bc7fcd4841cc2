package onebot

import (
	"bytes"
	"encoding/json"
)

// Echo is the opaque correlation token carried by an action request and
// mirrored back verbatim in its response. Any JSON value is allowed; the
// original encoding is kept so the frame can be re-serialized untouched.
type Echo struct {
	raw json.RawMessage
}

// EchoString builds a string-valued Echo
func EchoString(s string) Echo {
	b, _ := json.Marshal(s)
	return Echo{raw: b}
}

// EchoFromRaw wraps an already-encoded JSON value
func EchoFromRaw(raw json.RawMessage) Echo {
	return Echo{raw: append(json.RawMessage(nil), bytes.TrimSpace(raw)...)}
}

// IsSet returns false for an absent, null or empty-string echo
func (e Echo) IsSet() bool {
	if len(e.raw) == 0 {
		return false
	}
	switch string(e.raw) {
	case "null", `""`:
		return false
	}
	return true
}

// Key returns the canonical string used to index the correlation table.
// String echoes map to their decoded text; anything else maps to its compact
// JSON encoding behind a "json:" tag, so `1` and `"1"` are distinct keys.
func (e Echo) Key() string {
	if !e.IsSet() {
		return ""
	}
	if s, ok := decodeString(e.raw); ok {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.raw); err != nil {
		return "json:" + string(e.raw)
	}
	return "json:" + buf.String()
}

// Raw returns the JSON encoding of the echo, or nil if unset
func (e Echo) Raw() json.RawMessage {
	if !e.IsSet() {
		return nil
	}
	return e.raw
}

func (e Echo) String() string {
	return e.Key()
}
