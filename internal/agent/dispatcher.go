package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/larkbridge/internal/bus"
)

// Dispatcher drains admitted inbound messages from the bus, runs each
// through the runtime, and publishes the reply outbound. Messages are
// handled concurrently so a slow agent turn in one chat does not stall
// the others.
type Dispatcher struct {
	runtime Runtime
	bus     *bus.MessageBus
	wg      sync.WaitGroup
}

// NewDispatcher wires a runtime to the message bus.
func NewDispatcher(rt Runtime, msgBus *bus.MessageBus) *Dispatcher {
	return &Dispatcher{runtime: rt, bus: msgBus}
}

// Run consumes inbound messages until ctx is cancelled, then waits for
// in-flight agent turns to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			return ctx.Err()
		}
		d.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer d.wg.Done()
			d.handle(ctx, msg)
		}(msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg bus.InboundMessage) {
	reply, err := d.runtime.Respond(ctx, msg)
	if err != nil {
		slog.Error("Agent turn failed", "account", msg.Account, "chat", msg.ChatID, "error", err)
		return
	}
	if reply == "" {
		slog.Debug("Agent returned empty reply", "account", msg.Account, "chat", msg.ChatID)
		return
	}
	d.bus.PublishOutbound(bus.OutboundMessage{
		Account:  msg.Account,
		ChatID:   msg.ChatID,
		Content:  reply,
		Metadata: msg.Metadata,
	})
}
