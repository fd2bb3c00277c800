package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/larkbridge/internal/config"
	"github.com/nextlevelbuilder/larkbridge/internal/store/sqlite"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing requests",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	return cmd
}

func pairingListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pairing requests",
		Run: func(cmd *cobra.Command, args []string) {
			store := openPairingStore()
			defer store.Close()

			reqs, err := store.List(account)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to list pairing requests: %s\n", err)
				os.Exit(1)
			}
			if len(reqs) == 0 {
				fmt.Println("No pairing requests.")
				return
			}

			fmt.Printf("%-10s %-42s %-10s %s\n", "CODE", "SENDER", "STATUS", "CREATED")
			for _, req := range reqs {
				status := "pending"
				if req.ApprovedAt != nil {
					status = "approved"
				}
				fmt.Printf("%-10s %-42s %-10s %s\n",
					req.Code, req.SenderID, status, req.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	cmd.Flags().StringVar(&account, "account", config.DefaultAccountID, "account to list requests for")
	return cmd
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request by code",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openPairingStore()
			defer store.Close()

			req, err := store.Approve(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "approve failed: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Approved %s for account %s.\n", req.SenderID, req.Account)
			fmt.Println("The sender's next message will be delivered to the agent.")
		},
	}
}

func openPairingStore() *sqlite.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}
	store, err := sqlite.NewStore(cfg.PairingStoragePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open pairing store: %s\n", err)
		os.Exit(1)
	}
	return store
}
