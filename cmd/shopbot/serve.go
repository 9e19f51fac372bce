package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/handler"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

func newServeCmd() *cobra.Command {
	var (
		port     int
		noSweep  bool
		shutdown time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the handover sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("configuration loaded",
				zap.Int("port", cfg.Port),
				zap.String("log_level", cfg.LogLevel),
				zap.String("store_backend", cfg.StoreBackend),
				zap.String("lock_backend", cfg.LockBackend),
				zap.Duration("handover_timeout", cfg.HandoverTimeout),
				zap.Duration("sweeper_interval", cfg.SweeperInterval),
				zap.Int("max_retries", cfg.MaxRetries),
				zap.Bool("staff_auth", cfg.StaffJWTSecret != ""),
			)

			// --- Tracing ---
			shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint)
			if err != nil {
				return fmt.Errorf("init tracer: %w", err)
			}
			defer shutdownTracer(context.Background())

			a, err := newBaseApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown: closing resources", zap.Error(err))
				}
			}()

			ctrl := a.newControl(cfg, logger)
			chatSvc, err := a.newChatService(ctx, cfg, ctrl, logger)
			if err != nil {
				return err
			}

			// --- Sweeper ---
			sweepDone := make(chan struct{})
			if noSweep {
				close(sweepDone)
			} else {
				go func() {
					defer close(sweepDone)
					a.newSweeper(cfg, logger).Run(ctx)
				}()
			}

			// --- Router ---
			router := handler.NewRouter(handler.Options{
				Chat:           chatSvc,
				Control:        ctrl,
				Dependencies:   a.deps,
				StaffJWTSecret: cfg.StaffJWTSecret,
				AllowedOrigins: cfg.CORSAllowedOrigins,
			}, a.metrics, logger)

			// --- Server ---
			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: cfg.AICallTimeout*4 + 15*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", zap.Int("port", cfg.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					stop()
					<-sweepDone
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("server shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server forced shutdown", zap.Error(err))
			}
			<-sweepDone
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&noSweep, "no-sweeper", false, "do not run the handover sweeper in this process")
	cmd.Flags().DurationVar(&shutdown, "shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
	return cmd
}
