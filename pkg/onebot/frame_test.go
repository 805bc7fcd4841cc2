package onebot

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClassifiesFrames(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{`{"post_type":"message","message_type":"group","self_id":10,"user_id":20,"group_id":30,"message":"hi"}`, KindMessage},
		{`{"post_type":"message_sent","message_type":"private","self_id":10,"user_id":10,"message":[]}`, KindMessage},
		{`{"post_type":"notice","notice_type":"group_increase","self_id":10}`, KindNotice},
		{`{"post_type":"request","request_type":"friend","self_id":10}`, KindRequest},
		{`{"post_type":"meta_event","meta_event_type":"lifecycle","sub_type":"connect","self_id":"10"}`, KindMeta},
		{`{"action":"send_group_msg","params":{"group_id":1,"message":"x"},"echo":"e1"}`, KindActionRequest},
		{`{"status":"ok","retcode":0,"data":{"message_id":5},"echo":"e1"}`, KindActionResponse},
	}
	for _, c := range cases {
		f, err := Parse([]byte(c.raw))
		if err != nil {
			t.Fatalf("Parse(%s) returned error: %s", c.raw, err)
		}
		if f.Kind() != c.kind {
			t.Errorf("Parse(%s) kind = %s, expected %s", c.raw, f.Kind(), c.kind)
		}
		if c.kind != KindActionRequest && c.kind != KindActionResponse && SelfIDOf(f) != 10 {
			t.Errorf("Parse(%s) self_id = %d, expected 10", c.raw, SelfIDOf(f))
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`[1,2,3]`,
		`{"post_type":"bogus"}`,
		`{"hello":"world"}`,
		`{"post_type":"message","message":12}`,
		`{"a":1} {"b":2}`,
	} {
		_, err := Parse([]byte(raw))
		var mf *MalformedFrameError
		if !errors.As(err, &mf) {
			t.Errorf("Parse(%s) error = %v, expected *MalformedFrameError", raw, err)
		}
	}
}

func TestEncodePreservesUnknownFields(t *testing.T) {
	raw := `{"post_type":"message","message_type":"group","self_id":1,"user_id":2,"group_id":3,"message":"a[CQ:at,qq=5]b","raw_message":"a[CQ:at,qq=5]b","font":14,"x_vendor":{"k":"v"}}`
	f, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse returned error: %s", err)
	}
	ev := f.(*MessageEvent)
	if !ev.MessageWasString {
		t.Errorf("expected string-form body to be reported")
	}
	if len(ev.Message) != 3 || ev.Message[1].Type != SegmentAt || ev.Message[1].Get("qq") != "5" {
		t.Fatalf("unexpected segments: %+v", ev.Message)
	}
	out, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode returned error: %s", err)
	}
	back, err := DecodeObject(out)
	if err != nil {
		t.Fatalf("re-decode failed: %s", err)
	}
	if back.GetInt("font") != 14 {
		t.Errorf("font lost: %s", out)
	}
	if back.GetObject("x_vendor").GetString("k") != "v" {
		t.Errorf("x_vendor lost: %s", out)
	}
	if !strings.HasPrefix(string(back["message"]), "[") {
		t.Errorf("message not re-encoded in array form: %s", back["message"])
	}
}

func TestActionRequestRoundTrip(t *testing.T) {
	raw := `{"action":"send_msg","params":{"message_type":"group","group_id":"77","message":"hello","auto_escape":true},"echo":{"seq":9}}`
	f, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse returned error: %s", err)
	}
	req := f.(*ActionRequest)
	if !req.IsSend() {
		t.Errorf("send_msg should be a send action")
	}
	if req.GroupID() != 77 || req.MessageType() != MessageTypeGroup {
		t.Errorf("group_id=%d message_type=%s", req.GroupID(), req.MessageType())
	}
	msg, wasString, err := req.Message()
	if err != nil || !wasString || len(msg) != 1 || msg[0].Text() != "hello" {
		t.Fatalf("Message() = %v, %v, %v", msg, wasString, err)
	}
	if req.Echo.Key() != `json:{"seq":9}` {
		t.Errorf("echo key = %s", req.Echo.Key())
	}
	req.SetMessage(append(msg, TextSegment("!")))
	out, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode returned error: %s", err)
	}
	back, _ := DecodeObject(out)
	if string(back["echo"]) != `{"seq":9}` {
		t.Errorf("echo changed: %s", back["echo"])
	}
	params := back.GetObject("params")
	if params.Has("auto_escape") {
		t.Errorf("auto_escape should be dropped once the body is in array form")
	}
	m, _, _ := DecodeMessage(params["message"], false)
	if m.PlainText() != "hello!" {
		t.Errorf("message = %q", m.PlainText())
	}
}

func TestEchoKeys(t *testing.T) {
	if EchoFromRaw([]byte(`null`)).IsSet() || EchoFromRaw([]byte(`""`)).IsSet() || EchoFromRaw(nil).IsSet() {
		t.Errorf("null, empty and absent echoes must be unset")
	}
	if EchoFromRaw([]byte(`"1"`)).Key() == EchoFromRaw([]byte(`1`)).Key() {
		t.Errorf("string and number echoes must not collide")
	}
	if EchoFromRaw([]byte(`{"a": 1}`)).Key() != EchoFromRaw([]byte(`{"a":1}`)).Key() {
		t.Errorf("echo keys should ignore insignificant whitespace")
	}
	if EchoString("abc").Key() != "abc" {
		t.Errorf("EchoString key = %s", EchoString("abc").Key())
	}
}

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"a":123,"b":"456","c":"","d":null,"e":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if obj.GetID("a") != 123 || obj.GetID("b") != 456 {
		t.Errorf("a=%d b=%d", obj.GetID("a"), obj.GetID("b"))
	}
	if obj.GetID("c").IsSet() || obj.GetID("d").IsSet() || obj.GetID("e").IsSet() || obj.GetID("missing").IsSet() {
		t.Errorf("empty, null, invalid and missing ids should be unset")
	}
}

func TestParseCommand(t *testing.T) {
	msg := Message{ReplySegment("9"), TextSegment("  bs help  alias ")}
	if !msg.HasCommandPrefix("bs") {
		t.Fatalf("expected command prefix match")
	}
	name, args, ok := msg.ParseCommand("bs")
	if !ok || name != "help" || len(args) != 1 || args[0] != "alias" {
		t.Errorf("ParseCommand = %q %q %v", name, args, ok)
	}
	if _, _, ok := (Message{TextSegment("bs")}).ParseCommand("bs"); ok {
		t.Errorf("bare prefix should not parse as a command")
	}
	if (Message{TextSegment("bs")}).HasCommandPrefix("") {
		t.Errorf("empty prefix must never match")
	}
}
