package onebot

import (
	"sort"
	"strings"
)

// CQ code is the string form of a message: plain text with embedded
// [CQ:type,key=value,...] segments.

const cqOpen = "[CQ:"

var (
	textEscaper   = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;")
	textUnescaper = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&amp;", "&")
	paramEscaper  = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
	paramUnescape = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")
)

// ParseCQString converts a CQ-code string into array form. Malformed codes
// (an opening "[CQ:" without a closing bracket) are kept as text.
func ParseCQString(s string) Message {
	msg := Message{}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			msg = append(msg, TextSegment(textUnescaper.Replace(text.String())))
			text.Reset()
		}
	}
	for len(s) > 0 {
		i := strings.Index(s, cqOpen)
		if i < 0 {
			text.WriteString(s)
			break
		}
		end := strings.IndexByte(s[i:], ']')
		if end < 0 {
			text.WriteString(s)
			break
		}
		text.WriteString(s[:i])
		body := s[i+len(cqOpen) : i+end]
		s = s[i+end+1:]
		seg, ok := parseCQBody(body)
		if !ok {
			text.WriteString(cqOpen + body + "]")
			continue
		}
		flush()
		msg = append(msg, seg)
	}
	flush()
	return msg
}

func parseCQBody(body string) (Segment, bool) {
	parts := strings.Split(body, ",")
	typ := strings.TrimSpace(parts[0])
	if typ == "" {
		return Segment{}, false
	}
	seg := Segment{Type: typ, Data: Object{}}
	for _, p := range parts[1:] {
		k, v, found := strings.Cut(p, "=")
		if !found || k == "" {
			continue
		}
		seg.Set(k, paramUnescape.Replace(v))
	}
	return seg, true
}

// CQString renders the message in CQ-code form, as used for raw_message.
// Inline base64 payloads are elided.
func (m Message) CQString() string {
	var b strings.Builder
	for _, seg := range m {
		if seg.IsText() {
			b.WriteString(textEscaper.Replace(seg.Text()))
			continue
		}
		b.WriteString(cqOpen)
		b.WriteString(seg.Type)
		keys := make([]string, 0, len(seg.Data))
		for k := range seg.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := seg.Get(k)
			if v == "" {
				if raw := seg.Data[k]; len(raw) > 0 && string(raw) != "null" && string(raw) != `""` {
					v = string(raw)
				} else {
					continue
				}
			}
			if strings.HasPrefix(v, "base64://") {
				v = "base64://..."
			}
			b.WriteByte(',')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(paramEscaper.Replace(v))
		}
		b.WriteByte(']')
	}
	return b.String()
}
