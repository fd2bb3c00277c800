package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/gateway"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status of a running bridge",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	host := cfg.Status.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Status.Port
	if port <= 0 {
		port = config.DefaultStatusPort
	}
	url := fmt.Sprintf("http://%s:%d/status", host, port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge not reachable at %s (is it running?)\n", url)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var status gateway.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "unexpected status response: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("larkbridge %s, up %s\n\n", status.Version, status.Uptime)

	ids := make([]string, 0, len(status.Accounts))
	for id := range status.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		acct := status.Accounts[id]
		fmt.Printf("  %s\n", id)
		fmt.Printf("    %-16s %s\n", "State:", acct.State)
		if !acct.LastConnectedAt.IsZero() {
			fmt.Printf("    %-16s %s\n", "Connected at:", acct.LastConnectedAt.Format(time.RFC3339))
		}
		if !acct.LastInboundAt.IsZero() {
			fmt.Printf("    %-16s %s\n", "Last inbound:", acct.LastInboundAt.Format(time.RFC3339))
		}
		if acct.ReconnectAttempts > 0 {
			fmt.Printf("    %-16s %d\n", "Reconnects:", acct.ReconnectAttempts)
		}
		if acct.LastError != "" {
			fmt.Printf("    %-16s %s\n", "Last error:", acct.LastError)
		}
		fmt.Println()
	}
}
