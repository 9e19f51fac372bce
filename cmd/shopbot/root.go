package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/config"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

var (
	envFile  string
	logLevel string

	// loaded by the root pre-run
	cfg    *config.Config
	logger *zap.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopbot",
		Short: "Multi-tenant retail chatbot core",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal outside local development.
			_ = config.LoadDotEnv(envFile)

			cfg = config.Load()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logger = observability.NewLogger(cfg.LogLevel)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}
