package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	chathandler "github.com/boddenberg/shopbot-core/internal/chat/handler"
	"github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

// Pinger is a dependency checked by /readyz and reported by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the router.
type Options struct {
	Chat           chathandler.MessageProcessor
	Control        chathandler.BotController
	Dependencies   map[string]Pinger
	StaffJWTSecret string
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.Dependencies, logger))
	r.Get("/readyz", readyzHandler(opts.Dependencies, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/chat", chatMetricsHandler(metrics))

		if opts.Chat != nil && opts.Control != nil {
			r.Group(chathandler.Routes(opts.Chat, opts.Control, StaffAuthMiddleware(opts.StaffJWTSecret, logger), logger))
		}
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

const pingTimeout = 2 * time.Second

func checkDependencies(ctx context.Context, deps map[string]Pinger) []domain.ServiceHealth {
	now := time.Now().UTC().Format(time.RFC3339)
	services := []domain.ServiceHealth{{Name: observability.ServiceName, Status: "healthy", LastChecked: now}}
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		start := time.Now()
		err := dep.Ping(pingCtx)
		cancel()

		h := domain.ServiceHealth{Name: name, Status: "healthy", LatencyMs: time.Since(start).Milliseconds(), LastChecked: now}
		if err != nil {
			h.Status = "unhealthy"
			h.Error = err.Error()
		}
		services = append(services, h)
	}
	return services
}

func overall(services []domain.ServiceHealth) string {
	for _, s := range services {
		if s.Status != "healthy" {
			return "degraded"
		}
	}
	return "healthy"
}

// healthzHandler always answers 200 and reports each dependency.
func healthzHandler(deps map[string]Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := checkDependencies(r.Context(), deps)
		status := overall(services)
		if status != "healthy" {
			logger.Warn("health check degraded", zap.Any("services", services))
		}
		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: status, Services: services})
	}
}

// readyzHandler answers 503 while any dependency is unreachable.
func readyzHandler(deps map[string]Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := checkDependencies(r.Context(), deps)
		if overall(services) != "healthy" {
			logger.Warn("not ready", zap.Any("services", services))
			writeJSON(w, http.StatusServiceUnavailable, domain.HealthStatus{Status: "not_ready", Services: services})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func chatMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
