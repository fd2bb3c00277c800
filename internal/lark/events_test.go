package lark

import (
	"testing"
	"time"
)

const nestedPayload = `{
	"header": {"event_id": "ev1", "event_type": "im.message.receive_v1", "create_time": "1700000000000"},
	"event": {
		"sender": {"sender_id": {"open_id": "ou_alice", "union_id": "on_alice"}},
		"message": {
			"message_id": "om_1",
			"chat_id": "oc_room",
			"chat_type": "group",
			"message_type": "text",
			"content": "{\"text\":\"hello\"}"
		}
	}
}`

const flatPayload = `{
	"header": {"event_id": "ev2", "event_type": "im.message.receive_v1"},
	"sender": {"sender_id": {"open_id": "ou_bob"}},
	"message": {
		"message_id": "om_2",
		"chat_id": "ou_bob",
		"chat_type": "p2p",
		"message_type": "text",
		"content": "{\"text\":\"hi\"}"
	}
}`

func TestUnwrapEvent(t *testing.T) {
	t.Run("nested shape", func(t *testing.T) {
		ev, err := UnwrapEvent([]byte(nestedPayload))
		if err != nil {
			t.Fatalf("UnwrapEvent: %v", err)
		}
		if ev.Message.MessageID != "om_1" || ev.Sender.SenderID.OpenID != "ou_alice" {
			t.Errorf("unexpected event: %+v", ev)
		}
	})

	t.Run("flat shape", func(t *testing.T) {
		ev, err := UnwrapEvent([]byte(flatPayload))
		if err != nil {
			t.Fatalf("UnwrapEvent: %v", err)
		}
		if ev.Message.MessageID != "om_2" || ev.Sender.SenderID.OpenID != "ou_bob" {
			t.Errorf("unexpected event: %+v", ev)
		}
	})

	t.Run("unknown shape", func(t *testing.T) {
		if _, err := UnwrapEvent([]byte(`{"foo": "bar"}`)); err == nil {
			t.Error("expected error for unknown payload shape")
		}
	})
}

func TestSenderOpenID(t *testing.T) {
	ev := &MessageEvent{}
	ev.Sender.SenderID.UnionID = "on_x"
	if got := ev.SenderOpenID(); got != "on_x" {
		t.Errorf("SenderOpenID() = %q, want union id fallback", got)
	}
	ev.Sender.SenderID.OpenID = "ou_x"
	if got := ev.SenderOpenID(); got != "ou_x" {
		t.Errorf("SenderOpenID() = %q, want open id", got)
	}
}

func TestTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		message string
		header  string
		want    int64
	}{
		{"millisecond resolution", "1700000000000", "", 1700000000000},
		{"second resolution scaled", "1700000000", "", 1700000000000},
		{"header fallback", "", "1700000000500", 1700000000500},
		{"message wins over header", "1700000001000", "1700000000000", 1700000001000},
		{"local fallback", "", "", now.UnixMilli()},
		{"garbage falls through", "not-a-number", "", now.UnixMilli()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &MessageEvent{}
			ev.Message.CreateTime = tt.message
			ev.Header.CreateTime = tt.header
			if got := ev.Timestamp(now); got != tt.want {
				t.Errorf("Timestamp() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		messageType string
		want        string
	}{
		{"text", `{"text":"hello world"}`, "text", "hello world"},
		{"image placeholder", `{"image_key":"img_x"}`, "image", "[image]"},
		{"file with name", `{"file_name":"report.pdf"}`, "file", "[file: report.pdf]"},
		{"unknown type", `{}`, "audio", "[audio message]"},
		{
			"post paragraphs",
			`{"zh_cn":{"content":[[{"tag":"text","text":"line one"}],[{"tag":"a","text":"docs","href":"https://example.com"}]]}}`,
			"post",
			"line one\n[docs](https://example.com)",
		},
		{
			"post en_us fallback",
			`{"en_us":{"content":[[{"tag":"md","text":"**bold**"}]]}}`,
			"post",
			"**bold**",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseContent(tt.content, tt.messageType); got != tt.want {
				t.Errorf("ParseContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripMentions(t *testing.T) {
	mentions := []MentionItem{
		{Key: "@_user_1", Name: "bridge-bot"},
		{Key: "@_user_2", Name: "alice"},
	}
	mentions[0].ID.OpenID = "ou_bot"
	mentions[1].ID.OpenID = "ou_alice"

	got := StripMentions("@_user_1 hello @_user_2", mentions, "ou_bot")
	if got != "hello @alice" {
		t.Errorf("StripMentions() = %q, want %q", got, "hello @alice")
	}
}
