package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Return abandoned human handovers to the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newBaseApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sweeper := a.newSweeper(cfg, logger)
			if !once {
				sweeper.Run(ctx)
				return nil
			}

			n, err := sweeper.SweepOnce(ctx, time.Now())
			if err != nil {
				return err
			}
			logger.Info("sweep finished", zap.Int("reactivated", n))
			cmd.Printf("reactivated %d session(s)\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}
