package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/velocityfibre/polelink/internal/config"
	"github.com/velocityfibre/polelink/internal/resilience"
	"github.com/velocityfibre/polelink/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "polelink",
	Short: "Pole permission-to-assignment reconciliation",
	Long:  "Links field-captured pole permission approvals to planned pole assignments using multi-factor fuzzy matching, with conflict and duplicate detection.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore builds the configured store backend. Opening the Postgres pool
// is retried: on scheduled hosts this process can start before the database
// accepts connections.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 5
		retryCfg.OnRetry = resilience.RetryLogger("open_store")
		return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
		})
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
