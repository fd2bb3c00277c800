// Package channels provides the channel abstraction between the Lark
// platform and the agent runtime. Each enabled account runs as one
// channel owning its own connection supervisor and admission policy.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/larkbridge/internal/bus"
	"github.com/nextlevelbuilder/larkbridge/internal/supervisor"
)

// Channel is one supervised platform connection.
type Channel interface {
	// Name returns the account identifier the channel serves.
	Name() string

	// Start brings the connection up. Non-blocking after setup; the
	// supervisor keeps the session alive until Stop or ctx cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts the channel down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool

	// Status snapshots the connection state for diagnostics.
	Status() supervisor.Status
}

// BaseChannel carries the state shared by channel implementations.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
}

// NewBaseChannel creates a BaseChannel bound to the bus.
func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

// Name returns the account identifier.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
