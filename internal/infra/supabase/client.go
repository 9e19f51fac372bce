// Package supabase is the hosted records store: sessions, chat log, customer
// profiles, orders and bot switches in Supabase tables, reached through the
// PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// Ping checks that PostgREST answers; used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "bot_control?select=id&limit=1")
	return err
}

// get runs a GET through the breaker with retries.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return resilience.Call(ctx, c.cb, c.cfg, "supabase", func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, path, nil, "")
	})
}

// getRows decodes a GET into a slice of rows.
func getRows[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var rows []T
	if len(body) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tableOf(path), err)
	}
	return rows, nil
}

// eq builds a PostgREST equality filter with the value escaped.
func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// in builds a PostgREST membership filter.
func in(column string, values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, `"`+strings.ReplaceAll(v, `"`, `\"`)+`"`)
	}
	return column + "=in.(" + url.QueryEscape(strings.Join(quoted, ",")) + ")"
}

func query(table string, parts ...string) string {
	if len(parts) == 0 {
		return table
	}
	return table + "?" + strings.Join(parts, "&")
}

func tableOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
