package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/larkbridge/internal/bus"
	"github.com/nextlevelbuilder/larkbridge/internal/supervisor"
)

// Manager owns the registered channels, handling their lifecycle and
// routing outbound messages to the channel of the target account.
type Manager struct {
	channels       map[string]Channel
	bus            *bus.MessageBus
	dispatchCancel context.CancelFunc
	mu             sync.RWMutex
}

// NewManager creates an empty channel manager. Channels are registered
// externally via RegisterChannel.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// StartAll starts every registered channel and the outbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchCancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("No channels enabled")
		return nil
	}

	for name, channel := range m.channels {
		slog.Info("Starting channel", "account", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("Failed to start channel", "account", name, "error", err)
		}
	}
	return nil
}

// StopAll gracefully stops all channels and the outbound dispatch loop.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}

	for name, channel := range m.channels {
		slog.Info("Stopping channel", "account", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("Error stopping channel", "account", name, "error", err)
		}
	}
	return nil
}

// dispatchOutbound consumes outbound messages from the bus and routes
// each to the channel of its account.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Debug("Outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Debug("Outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Account]
		m.mu.RUnlock()
		if !exists {
			slog.Warn("Outbound message for unknown account", "account", msg.Account)
			continue
		}

		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("Failed to send message", "account", msg.Account, "chat", msg.ChatID, "error", err)
		}
	}
}

// RegisterChannel adds a channel under its account id.
func (m *Manager) RegisterChannel(channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.Name()] = channel
}

// UnregisterChannel removes a channel.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetEnabledChannels returns the account ids of all registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// GetChannel returns a channel by account id.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// GetStatus snapshots the connection status of every channel, keyed by
// account id.
func (m *Manager) GetStatus() map[string]supervisor.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]supervisor.Status, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.Status()
	}
	return status
}

// SendToAccount delivers a message through a specific account's channel.
func (m *Manager) SendToAccount(ctx context.Context, account, chatID, content string) error {
	m.mu.RLock()
	channel, exists := m.channels[account]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("account %s not found", account)
	}
	return channel.Send(ctx, bus.OutboundMessage{
		Account: account,
		ChatID:  chatID,
		Content: content,
	})
}
