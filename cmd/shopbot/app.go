package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	chatinfra "github.com/boddenberg/shopbot-core/internal/chat/infra"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/chat/service"
	"github.com/boddenberg/shopbot-core/internal/config"
	"github.com/boddenberg/shopbot-core/internal/handler"
	"github.com/boddenberg/shopbot-core/internal/infra/client"
	"github.com/boddenberg/shopbot-core/internal/infra/lock"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
	"github.com/boddenberg/shopbot-core/internal/infra/sqlite"
	"github.com/boddenberg/shopbot-core/internal/infra/supabase"
)

// records groups the record-store ports of one backend.
type records struct {
	sessions  port.SessionStore
	chatLog   port.ChatLogStore
	customers port.CustomerStore
	control   port.ControlStore
	pinger    handler.Pinger
}

// app holds the wired components and releases them in reverse order.
type app struct {
	records records
	locker  port.SessionLocker
	replies *service.Replies
	metrics *observability.Metrics
	deps    map[string]handler.Pinger

	closers []func() error
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func resilienceConfig(cfg *config.Config) resilience.Config {
	return resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
}

// newBaseApp wires what every command needs: the records store, the
// session lock and the reply catalog.
func newBaseApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{metrics: observability.NewMetrics(), deps: map[string]handler.Pinger{}}

	replies := service.DefaultReplies()
	if cfg.RepliesFile != "" {
		var err error
		if replies, err = service.LoadReplies(cfg.RepliesFile); err != nil {
			return nil, err
		}
		logger.Info("reply catalog loaded", zap.String("path", cfg.RepliesFile))
	}
	a.replies = replies

	if err := a.openRecords(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLocker(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRecords(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.StoreBackend {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return err
		}
		a.onClose(db.Close)
		a.records = records{
			sessions:  db.Sessions(),
			chatLog:   db.ChatLog(),
			customers: db.Customers(),
			control:   db.Control(),
			pinger:    db,
		}
		logger.Info("records store: sqlite", zap.String("path", cfg.SQLitePath))

	case "supabase":
		if cfg.SupabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=supabase requires SUPABASE_URL")
		}
		sb := supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceConfig(cfg),
			logger,
		)
		a.records = records{
			sessions:  sb.Sessions(),
			chatLog:   sb.ChatLog(),
			customers: sb.Customers(),
			control:   sb.Control(),
			pinger:    sb,
		}
		logger.Info("records store: supabase", zap.String("supabase_url", cfg.SupabaseURL))

	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want sqlite or supabase)", cfg.StoreBackend)
	}
	a.deps["records"] = a.records.pinger
	return nil
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func (a *app) openLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.LockBackend {
	case "", "local":
		a.locker = lock.NewLocal()
	case "redis":
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.onClose(rc.Close)
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		a.locker = lock.NewRedis(rc, cfg.LockTTL, logger)
		a.deps["redis"] = redisPinger{rc}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q (want local or redis)", cfg.LockBackend)
	}
	logger.Info("session lock", zap.String("backend", cfg.LockBackend))
	return nil
}

// newControl builds the control service on the records store.
func (a *app) newControl(cfg *config.Config, logger *zap.Logger) *service.ControlService {
	ctrl := service.NewControlService(
		a.records.control,
		a.records.sessions,
		a.records.chatLog,
		a.records.customers,
		a.locker,
		a.replies,
		cfg.BotControlCacheTTL,
		a.metrics,
		logger,
	)
	a.onClose(func() error { ctrl.Close(); return nil })
	return ctrl
}

// newChatService wires the catalog, image index, embedding service and
// language model around the base app.
func (a *app) newChatService(ctx context.Context, cfg *config.Config, ctrl *service.ControlService, logger *zap.Logger) (*service.ChatService, error) {
	rcfg := resilienceConfig(cfg)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	pool, err := chatinfra.OpenCatalog(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error { pool.Close(); return nil })
	a.deps["catalog"] = pool
	search := chatinfra.NewProductSearch(pool, a.metrics, logger)

	qc, err := chatinfra.NewQdrantClient(chatinfra.QdrantConfig{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(qc.Close)
	imageSearch := chatinfra.NewImageSearch(qc, cfg.QdrantCollection, a.metrics, logger)

	gemini := chatinfra.NewGeminiClient(cfg.GeminiDefaultModel, resilience.NewCircuitBreaker("gemini"), rcfg, a.metrics, logger)
	a.onClose(gemini.Close)

	embedder := client.NewEmbeddingClient(httpClient, cfg.EmbeddingURL, resilience.NewCircuitBreaker("embedding"), rcfg)
	fetcher := client.NewImageFetcher(httpClient, resilience.NewCircuitBreaker("image_fetch"), rcfg)

	matcher := service.NewMatcher(search, gemini, service.MatcherConfig{
		MaxPages:      cfg.MatcherMaxPages,
		PageSize:      cfg.SearchPageSize,
		ScoreCutoff:   cfg.MatcherScoreCutoff,
		SearchTimeout: cfg.SearchTimeout,
		AITimeout:     cfg.AICallTimeout,
	}, a.metrics, logger)

	scfg := service.DefaultConfig()
	scfg.PageSize = cfg.SearchPageSize
	scfg.HistoryContextLimit = cfg.HistoryContextLimit
	scfg.HistoryResponseLimit = cfg.HistoryResponseLimit
	scfg.ImageMinSimilarity = cfg.ImageMinSimilarity
	scfg.AITimeout = cfg.AICallTimeout
	scfg.SearchTimeout = cfg.SearchTimeout
	scfg.DefaultModel = cfg.GeminiDefaultModel

	return service.NewChatService(service.Deps{
		Sessions:    a.records.sessions,
		ChatLog:     a.records.chatLog,
		Search:      search,
		ImageSearch: imageSearch,
		Embedder:    embedder,
		Fetcher:     fetcher,
		AI:          gemini,
		Locker:      a.locker,
		Control:     ctrl,
		Matcher:     matcher,
		Orders:      service.NewOrderBuilder(a.records.customers, a.metrics, logger),
		Replies:     a.replies,
	}, scfg, a.metrics, logger), nil
}

func (a *app) newSweeper(cfg *config.Config, logger *zap.Logger) *service.Sweeper {
	return service.NewSweeper(a.records.sessions, a.records.chatLog, a.locker, a.replies, service.SweeperConfig{
		Interval: cfg.SweeperInterval,
		Timeout:  cfg.HandoverTimeout,
	}, a.metrics, logger)
}
