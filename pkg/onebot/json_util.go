package onebot

// Small helpers for picking apart loosely-typed JSON objects

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Object is a decoded JSON object whose member values are left encoded. Frames
// keep every member they were received with in an Object so that fields this
// package does not model survive a decode/encode round trip.
type Object map[string]json.RawMessage

// DecodeObject decodes a single JSON object. Trailing data after the object is
// an error.
func DecodeObject(raw []byte) (Object, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON object at offset %d", dec.InputOffset())
	}
	if obj == nil {
		obj = Object{}
	}
	return obj, nil
}

// Has returns true if the member is present, even if it is null
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// GetString returns a string member. Numbers are returned in their JSON spelling.
func (o Object) GetString(key string) string {
	raw, ok := o[key]
	if !ok {
		return ""
	}
	if s, ok := decodeString(raw); ok {
		return s
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) {
		return string(raw)
	}
	return ""
}

// GetID returns an id member, or zero if absent or not a number
func (o Object) GetID(key string) ID {
	raw, ok := o[key]
	if !ok {
		return 0
	}
	var id ID
	if err := id.UnmarshalJSON(raw); err != nil {
		return 0
	}
	return id
}

// GetInt returns an integer member, or zero
func (o Object) GetInt(key string) int64 {
	return int64(o.GetID(key))
}

// GetBool returns a boolean member, or false
func (o Object) GetBool(key string) bool {
	raw, ok := o[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// GetObject returns a nested object member, or nil
func (o Object) GetObject(key string) Object {
	raw, ok := o[key]
	if !ok {
		return nil
	}
	obj, err := DecodeObject(raw)
	if err != nil {
		return nil
	}
	return obj
}

// Set encodes v and stores it under key
func (o Object) Set(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	o[key] = b
	return nil
}

// Clone returns a shallow copy; member encodings are immutable so they are shared
func (o Object) Clone() Object {
	c := make(Object, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// ToCompactJsonString marshals v without indentation or a trailing newline.
// HTML escaping is disabled so CQ codes and CJK text stay readable in logs.
func ToCompactJsonString(v interface{}) (string, error) {
	b, err := marshalNoEscape(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Abbrev shortens s to at most n runes for log output
func Abbrev(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

func decodeString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
