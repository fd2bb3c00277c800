// Package bus provides the in-process message bus between the Feishu channel
// and the agent runtime. Inbound and outbound flows are decoupled so a slow
// agent reply never blocks delivery of subsequent transport events.
package bus

import (
	"context"
	"log/slog"
)

const defaultQueueSize = 256

// MessageBus is a buffered inbound/outbound queue pair.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus creates a bus with default queue capacity.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueSize),
		outbound: make(chan OutboundMessage, defaultQueueSize),
	}
}

// PublishInbound enqueues an admitted inbound message. Non-blocking: if the
// queue is full the message is dropped with a warning rather than stalling
// the transport callback.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"account", msg.Account, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until an inbound message is available or the context
// is cancelled. The second return value is false on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues a reply for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping reply",
			"account", msg.Account, "chat_id", msg.ChatID)
	}
}

// SubscribeOutbound blocks until an outbound message is available or the
// context is cancelled.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

var _ MessageRouter = (*MessageBus)(nil)
