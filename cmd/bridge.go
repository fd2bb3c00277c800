package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/larkbridge/internal/agent"
	"github.com/nextlevelbuilder/larkbridge/internal/bus"
	"github.com/nextlevelbuilder/larkbridge/internal/channels"
	"github.com/nextlevelbuilder/larkbridge/internal/channels/feishu"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/gateway"
	"github.com/nextlevelbuilder/larkbridge/internal/store/sqlite"
)

func bridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run the bridge (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runBridge()
		},
	}
}

func runBridge() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if len(cfg.EnabledAccounts()) == 0 {
		slog.Error("No enabled accounts; set app_id/app_secret in config or LARKBRIDGE_APP_ID/LARKBRIDGE_APP_SECRET")
		os.Exit(1)
	}
	if cfg.Agent.BridgeURL == "" {
		slog.Error("agent.bridge_url is required; set it in config or LARKBRIDGE_AGENT_URL")
		os.Exit(1)
	}

	dataStore, err := sqlite.NewStore(cfg.PairingStoragePath())
	if err != nil {
		slog.Error("Failed to open pairing store", "error", err)
		os.Exit(1)
	}
	defer dataStore.Close()

	runtime, err := agent.NewHTTPRuntime(cfg.Agent.BridgeURL, time.Duration(cfg.Agent.TimeoutSec)*time.Second)
	if err != nil {
		slog.Error("Failed to create agent runtime", "error", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus()
	manager := channels.NewManager(msgBus)
	dispatcher := agent.NewDispatcher(runtime, msgBus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := config.NewResolver(cfg)
	if err := registerChannels(cfg, resolver, msgBus, manager, dataStore); err != nil {
		slog.Error("Failed to build channels", "error", err)
		os.Exit(1)
	}
	if err := manager.StartAll(ctx); err != nil {
		slog.Error("Failed to start channels", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })

	statusSrv := gateway.NewStatusServer(cfg.Status, manager, Version)
	g.Go(func() error { return statusSrv.Run(gctx) })

	g.Go(func() error {
		return config.Watch(gctx, cfgPath, cfg, func(next *config.Config) {
			reloadChannels(gctx, next, resolver, msgBus, manager, dataStore)
		})
	})

	slog.Info("larkbridge running", "version", Version, "accounts", cfg.EnabledAccounts())

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("Bridge terminated", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.StopAll(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
	slog.Info("larkbridge stopped")
}

// registerChannels builds one feishu channel per enabled account.
func registerChannels(cfg *config.Config, resolver *config.Resolver, msgBus *bus.MessageBus, manager *channels.Manager, dataStore *sqlite.Store) error {
	for _, id := range cfg.EnabledAccounts() {
		account, err := resolver.Resolve(id)
		if err != nil {
			return err
		}
		ch, err := feishu.New(account, cfg.Agent, msgBus, dataStore, dataStore)
		if err != nil {
			return err
		}
		manager.RegisterChannel(ch)
	}
	return nil
}

// reloadChannels tears the current channel set down and rebuilds it from the
// reloaded config. Connection and policy changes both take effect here.
func reloadChannels(ctx context.Context, next *config.Config, resolver *config.Resolver, msgBus *bus.MessageBus, manager *channels.Manager, dataStore *sqlite.Store) {
	slog.Info("Config changed, rebuilding channels", "accounts", next.EnabledAccounts())

	if err := manager.StopAll(ctx); err != nil {
		slog.Error("Error stopping channels for reload", "error", err)
	}
	for _, name := range manager.GetEnabledChannels() {
		manager.UnregisterChannel(name)
	}

	resolver.Invalidate(next)
	if err := registerChannels(next, resolver, msgBus, manager, dataStore); err != nil {
		slog.Error("Failed to rebuild channels after reload", "error", err)
		return
	}
	if err := manager.StartAll(ctx); err != nil {
		slog.Error("Failed to restart channels after reload", "error", err)
	}
}
