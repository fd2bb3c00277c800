package bus

import "context"

// InboundMessage is the normalized envelope handed to the agent runtime.
// Built once per admitted event by the Feishu channel; immutable after
// creation and consumed exactly once by the dispatcher.
type InboundMessage struct {
	Account           string            `json:"account"`
	SenderID          string            `json:"sender_id"`
	SenderName        string            `json:"sender_name,omitempty"`
	ChatID            string            `json:"chat_id"`
	ChatType          string            `json:"chat_type"` // "p2p" or "group"
	SessionKey        string            `json:"session_key"`
	Content           string            `json:"content"`
	WasMentioned      bool              `json:"was_mentioned,omitempty"`
	CommandAuthorized bool              `json:"command_authorized,omitempty"`
	GroupSystemPrompt string            `json:"group_system_prompt,omitempty"`
	Timestamp         int64             `json:"timestamp"` // epoch milliseconds
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply payload to be delivered back to the platform.
type OutboundMessage struct {
	Account  string            `json:"account"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageRouter abstracts inbound/outbound routing between the channel and
// the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
