package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := NewMessageBus()
	b.PublishInbound(InboundMessage{Account: "default", ChatID: "oc_room", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Account != "default" || msg.Content != "hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestConsumeCancellation(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("expected cancellation, got a message")
	}
	if _, ok := b.SubscribeOutbound(ctx); ok {
		t.Error("expected cancellation, got a message")
	}
}

func TestPublishInboundDropsWhenFull(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < defaultQueueSize+10; i++ {
		b.PublishInbound(InboundMessage{Account: "default"})
	}
	// The queue holds exactly its capacity; overflow was dropped, not blocked.
	if got := len(b.inbound); got != defaultQueueSize {
		t.Errorf("queue holds %d messages, want %d", got, defaultQueueSize)
	}
}
