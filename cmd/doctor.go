package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("larkbridge doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — env-only mode)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Accounts:")
	if len(cfg.Accounts) == 0 {
		fmt.Println("    (none configured)")
	}
	for id, acct := range cfg.Accounts {
		if acct == nil {
			continue
		}
		state := "disabled"
		switch {
		case acct.Enabled && acct.Configured():
			state = "enabled"
		case acct.Enabled:
			state = "enabled, missing credentials"
		}
		fmt.Printf("    %-16s %s (dm=%s, group=%s)\n",
			id+":", state, acct.EffectiveDMPolicy(), acct.EffectiveGroupPolicy())
	}

	fmt.Println()
	fmt.Println("  Agent:")
	if cfg.Agent.BridgeURL == "" {
		fmt.Println("    bridge_url: (NOT SET — bridge will refuse to start)")
	} else {
		fmt.Printf("    bridge_url: %s\n", cfg.Agent.BridgeURL)
	}

	fmt.Println()
	fmt.Printf("  Pairing store: %s\n", cfg.PairingStoragePath())
}
