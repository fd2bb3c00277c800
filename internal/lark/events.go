package lark

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventTypeMessage is the im message receive event type.
const EventTypeMessage = "im.message.receive_v1"

// EventHeader is the common event envelope header.
type EventHeader struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	TenantKey  string `json:"tenant_key"`
}

// Sender identifies the message author. A sender carries several aliases;
// open_id is stable per app, union_id per tenant.
type Sender struct {
	SenderID struct {
		OpenID  string `json:"open_id"`
		UnionID string `json:"union_id"`
		UserID  string `json:"user_id"`
	} `json:"sender_id"`
	SenderType string `json:"sender_type"`
	TenantKey  string `json:"tenant_key"`
}

// MentionItem is one platform-native mention inside a message.
type MentionItem struct {
	Key string `json:"key"` // @_user_N placeholder in the content
	ID  struct {
		OpenID  string `json:"open_id"`
		UnionID string `json:"union_id"`
	} `json:"id"`
	Name string `json:"name"`
}

// Message is the message body of a receive event.
type Message struct {
	MessageID   string        `json:"message_id"`
	RootID      string        `json:"root_id"`
	ParentID    string        `json:"parent_id"`
	CreateTime  string        `json:"create_time"` // epoch, ms or s resolution
	ChatID      string        `json:"chat_id"`
	ChatType    string        `json:"chat_type"` // "p2p" or "group"
	MessageType string        `json:"message_type"`
	Content     string        `json:"content"` // content JSON, shape depends on message_type
	Mentions    []MentionItem `json:"mentions"`
}

// MessageEvent is the unwrapped inbound message event, shape-independent.
type MessageEvent struct {
	Header  EventHeader
	Sender  Sender
	Message Message
}

// The two accepted wire shapes. Lark's long connection delivers the nested
// form; older dispatchers flatten sender/message to the top level. Unwrap
// tries them as named variants in a fixed order rather than probing fields.
type nestedEvent struct {
	Header EventHeader `json:"header"`
	Event  struct {
		Sender  Sender  `json:"sender"`
		Message Message `json:"message"`
	} `json:"event"`
}

type flatEvent struct {
	Header  EventHeader `json:"header"`
	Sender  Sender      `json:"sender"`
	Message Message     `json:"message"`
}

// UnwrapEvent parses a raw event payload, accepting the nested shape first
// and the flattened shape as fallback.
func UnwrapEvent(payload []byte) (*MessageEvent, error) {
	var nested nestedEvent
	if err := json.Unmarshal(payload, &nested); err == nil && nested.Event.Message.MessageID != "" {
		return &MessageEvent{
			Header:  nested.Header,
			Sender:  nested.Event.Sender,
			Message: nested.Event.Message,
		}, nil
	}

	var flat flatEvent
	if err := json.Unmarshal(payload, &flat); err == nil && flat.Message.MessageID != "" {
		return &MessageEvent{
			Header:  flat.Header,
			Sender:  flat.Sender,
			Message: flat.Message,
		}, nil
	}

	return nil, fmt.Errorf("event payload matches no known shape")
}

// SenderOpenID returns the preferred stable sender id: open_id, falling back
// to union_id.
func (e *MessageEvent) SenderOpenID() string {
	if id := e.Sender.SenderID.OpenID; id != "" {
		return id
	}
	return e.Sender.SenderID.UnionID
}

// Timestamp derives the event time in epoch milliseconds: message
// create_time, then header create_time, then local receipt time. Values
// below 1e11 are second-resolution and scaled.
func (e *MessageEvent) Timestamp(now time.Time) int64 {
	for _, raw := range []string{e.Message.CreateTime, e.Header.CreateTime} {
		if ms, ok := epochMillis(raw); ok {
			return ms
		}
	}
	return now.UnixMilli()
}

// epochMillis parses an epoch string tolerating both second- and
// millisecond-resolution encodings.
func epochMillis(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	if v < 1e11 {
		v *= 1000
	}
	return int64(v), true
}

// --- Content parsing ---

// ParseContent extracts plain text from the content JSON of a message.
func ParseContent(rawContent, messageType string) string {
	if rawContent == "" {
		return ""
	}

	switch messageType {
	case "text":
		var textMsg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(rawContent), &textMsg); err == nil {
			return textMsg.Text
		}
		return rawContent

	case "post":
		return parsePostContent(rawContent)

	case "image":
		return "[image]"

	case "file":
		var fileMsg struct {
			FileName string `json:"file_name"`
		}
		if err := json.Unmarshal([]byte(rawContent), &fileMsg); err == nil && fileMsg.FileName != "" {
			return fmt.Sprintf("[file: %s]", fileMsg.FileName)
		}
		return "[file]"

	default:
		return fmt.Sprintf("[%s message]", messageType)
	}
}

func parsePostContent(rawContent string) string {
	var post map[string]interface{}
	if err := json.Unmarshal([]byte(rawContent), &post); err != nil {
		return rawContent
	}

	var langContent interface{}
	for _, lang := range []string{"zh_cn", "en_us"} {
		if lc, ok := post[lang]; ok {
			langContent = lc
			break
		}
	}
	if langContent == nil {
		for _, v := range post {
			langContent = v
			break
		}
	}
	if langContent == nil {
		return rawContent
	}

	langMap, ok := langContent.(map[string]interface{})
	if !ok {
		return rawContent
	}

	contentArr, ok := langMap["content"].([]interface{})
	if !ok {
		return rawContent
	}

	var textParts []string
	for _, para := range contentArr {
		paraArr, ok := para.([]interface{})
		if !ok {
			continue
		}
		var lineParts []string
		for _, elem := range paraArr {
			elemMap, ok := elem.(map[string]interface{})
			if !ok {
				continue
			}
			tag, _ := elemMap["tag"].(string)
			switch tag {
			case "text", "md":
				if t, ok := elemMap["text"].(string); ok {
					lineParts = append(lineParts, t)
				}
			case "at":
				if name, ok := elemMap["user_name"].(string); ok {
					lineParts = append(lineParts, "@"+name)
				}
			case "a":
				if href, ok := elemMap["href"].(string); ok {
					text, _ := elemMap["text"].(string)
					if text != "" {
						lineParts = append(lineParts, fmt.Sprintf("[%s](%s)", text, href))
					} else {
						lineParts = append(lineParts, href)
					}
				}
			case "img":
				lineParts = append(lineParts, "[image]")
			}
		}
		if len(lineParts) > 0 {
			textParts = append(textParts, strings.Join(lineParts, ""))
		}
	}

	return strings.Join(textParts, "\n")
}

// StripMentions removes the bot's @-placeholder from text and rewrites the
// remaining placeholders as readable @Name references.
func StripMentions(text string, mentions []MentionItem, botOpenID string) string {
	for _, m := range mentions {
		if m.Key == "" {
			continue
		}
		if botOpenID == "" || m.ID.OpenID == botOpenID {
			text = strings.ReplaceAll(text, m.Key, "")
		} else if m.Name != "" {
			text = strings.ReplaceAll(text, m.Key, "@"+m.Name)
		}
	}
	return strings.TrimSpace(text)
}
