// Package feishu implements the Feishu/Lark channel: one supervised long
// connection per account, admission policy on every inbound event, chunked
// outbound delivery. Default domain: Lark Global (open.larksuite.com).
package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/bus"
	"github.com/nextlevelbuilder/larkbridge/internal/channels"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/lark"
	"github.com/nextlevelbuilder/larkbridge/internal/policy"
	"github.com/nextlevelbuilder/larkbridge/internal/store"
	"github.com/nextlevelbuilder/larkbridge/internal/supervisor"
)

const (
	defaultTextChunkLimit = 4000
	senderCacheTTL        = 10 * time.Minute
	chatNameCacheTTL      = 10 * time.Minute
	dedupTTL              = 5 * time.Minute
	pairingDebounceTime   = 60 * time.Second
)

// Channel connects one Lark account to the bus.
type Channel struct {
	*channels.BaseChannel
	account   *config.Account
	policyCfg *config.AccountConfig
	agent     config.AgentConfig
	client    *lark.Client
	engine    *policy.Engine
	sup       *supervisor.Supervisor
	pairing   store.PairingStore
	routes    store.RouteStore

	botOpenID string

	senderCache     sync.Map // open_id → *cacheEntry
	chatNameCache   sync.Map // chat_id → *cacheEntry
	dedup           sync.Map // message_id → struct{}
	pairingDebounce sync.Map // sender open_id → time.Time
	pendingAcks     sync.Map // chat_id → ackRef
	routeDone       sync.Map // "account:sender" → agent id
	routeInFlight   sync.Map // "account:sender" → struct{}

	// runCtx spans the channel's lifetime, not one session's. In-flight
	// message processing runs on it so a reconnect cannot abort it.
	runCtx context.Context
	cancel context.CancelFunc
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

type ackRef struct {
	messageID  string
	reactionID string
}

// New creates a channel for one resolved account.
func New(account *config.Account, agent config.AgentConfig, msgBus *bus.MessageBus, pairingSvc store.PairingStore, routeSvc store.RouteStore) (*Channel, error) {
	if account.AppID == "" || account.AppSecret == "" {
		return nil, fmt.Errorf("feishu app_id and app_secret are required")
	}

	pol := account.Policy
	client := lark.NewClient(account.AppID, account.AppSecret,
		lark.ResolveDomain(pol.Domain), pol.SendRatePerMinute)

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(account.ID, msgBus),
		account:     account,
		policyCfg:   pol,
		agent:       agent,
		client:      client,
		engine:      policy.New(pol),
		pairing:     pairingSvc,
		routes:      routeSvc,
	}
	c.sup = supervisor.New(account.ID, c.dial, supervisor.Config{
		IdleTimeout:      time.Duration(pol.IdleTimeout()) * time.Second,
		WatchdogInterval: time.Duration(pol.WatchdogIntervalSeconds) * time.Second,
	})
	return c, nil
}

// Start probes the bot identity and brings the supervised connection up.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("Starting feishu/lark channel", "account", c.Name())

	if err := c.probeBotInfo(ctx); err != nil {
		// Mention gating degrades to any-mention until the next restart.
		slog.Warn("Bot identity probe failed, continuing", "account", c.Name(), "error", err)
	} else {
		slog.Info("Bot identity resolved", "account", c.Name(), "bot_open_id", c.botOpenID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.cancel = cancel
	go func() {
		if err := c.sup.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("Connection supervisor exited", "account", c.Name(), "error", err)
		}
	}()

	c.SetRunning(true)
	return nil
}

// Stop shuts the channel down. Terminal: the supervisor never reconnects
// afterward.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("Stopping feishu/lark channel", "account", c.Name())
	c.sup.Stop()
	if c.cancel != nil {
		c.cancel()
	}
	c.SetRunning(false)
	return nil
}

// Status snapshots the connection state.
func (c *Channel) Status() supervisor.Status {
	return c.sup.Status()
}

// RequestRestart asks the supervisor for a connection restart. Concurrent
// requests coalesce.
func (c *Channel) RequestRestart(reason string) {
	c.sup.RequestRestart(reason)
}

// dial creates one fresh transport attempt for the supervisor.
func (c *Channel) dial(ctx context.Context) (supervisor.Transport, error) {
	return lark.NewWSTransport(c.client, c.handleEvent), nil
}

func (c *Channel) probeBotInfo(ctx context.Context) error {
	openID, err := c.client.GetBotInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch bot info: %w", err)
	}
	if openID == "" {
		return fmt.Errorf("bot open_id is empty")
	}
	c.botOpenID = openID
	return nil
}

var _ channels.Channel = (*Channel)(nil)
