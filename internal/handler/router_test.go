package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/handler"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type stubChat struct{}

func (stubChat) ProcessMessage(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Reply: "ok"}, nil
}

type stubControl struct{}

func (stubControl) Power(_ context.Context, tenantID string, _ domain.PowerCommand) (*domain.BotPower, error) {
	return &domain.BotPower{Scope: "tenant", TenantID: tenantID, Active: true}, nil
}
func (stubControl) TenantSummary(_ context.Context, tenantID string) (*domain.TenantBotSummary, error) {
	return &domain.TenantBotSummary{TenantID: tenantID}, nil
}
func (stubControl) ListSessions(context.Context, string) ([]domain.Session, error) { return nil, nil }
func (stubControl) ControlSession(context.Context, string, string, domain.PowerCommand) (*domain.Session, error) {
	return &domain.Session{}, nil
}
func (stubControl) MarkHumanChatting(context.Context, string, string) (*domain.Session, error) {
	return &domain.Session{}, nil
}
func (stubControl) History(context.Context, string, string) ([]domain.Turn, error) { return nil, nil }
func (stubControl) DeleteHistory(context.Context, string, string) (int, error)     { return 0, nil }
func (stubControl) Orders(context.Context, string, string, domain.OrderStatus) ([]domain.Order, error) {
	return nil, nil
}
func (stubControl) Order(context.Context, string, string) (*domain.Order, error) {
	return nil, &appdomain.ErrNotFound{Resource: "order"}
}

func newRouter(opts handler.Options) http.Handler {
	return handler.NewRouter(opts, observability.NewMetrics(), zap.NewNop())
}

func get(router http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newRouter(handler.Options{Dependencies: map[string]handler.Pinger{
		"records": pingFunc(func(context.Context) error { return errors.New("down") }),
	}})

	rec := get(router, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body appdomain.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	require.Len(t, body.Services, 2)
	assert.Equal(t, "down", body.Services[1].Error)
}

func TestReadyz(t *testing.T) {
	ok := newRouter(handler.Options{Dependencies: map[string]handler.Pinger{
		"records": pingFunc(func(context.Context) error { return nil }),
	}})
	assert.Equal(t, http.StatusOK, get(ok, "/readyz", nil).Code)

	down := newRouter(handler.Options{Dependencies: map[string]handler.Pinger{
		"records": pingFunc(func(context.Context) error { return errors.New("down") }),
	}})
	assert.Equal(t, http.StatusServiceUnavailable, get(down, "/readyz", nil).Code)
}

func TestMetrics(t *testing.T) {
	router := newRouter(handler.Options{})

	assert.Equal(t, http.StatusOK, get(router, "/metrics", nil).Code)
	assert.Equal(t, http.StatusOK, get(router, "/ping", nil).Code)

	rec := get(router, "/v1/metrics/chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orders_created")
}

func signed(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "staff-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestStaffAuth(t *testing.T) {
	router := newRouter(handler.Options{
		Chat:           stubChat{},
		Control:        stubControl{},
		StaffJWTSecret: "s3cret",
	})
	bearer := func(tok string) http.Header { return http.Header{"Authorization": {"Bearer " + tok}} }

	assert.Equal(t, http.StatusUnauthorized, get(router, "/v1/tenants/shop-1/bot", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/v1/tenants/shop-1/bot", http.Header{"Authorization": {"Basic abc"}}).Code)
	assert.Equal(t, http.StatusUnauthorized,
		get(router, "/v1/tenants/shop-1/bot", bearer(signed(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour)))).Code)
	assert.Equal(t, http.StatusUnauthorized,
		get(router, "/v1/tenants/shop-1/bot", bearer(signed(t, "s3cret", jwt.SigningMethodHS256, time.Now().Add(-time.Hour)))).Code)
	assert.Equal(t, http.StatusUnauthorized,
		get(router, "/v1/tenants/shop-1/bot", bearer(signed(t, "s3cret", jwt.SigningMethodHS512, time.Now().Add(time.Hour)))).Code)

	rec := get(router, "/v1/tenants/shop-1/bot", bearer(signed(t, "s3cret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound,
		get(router, "/v1/tenants/shop-1/orders/x", bearer(signed(t, "s3cret", jwt.SigningMethodHS256, time.Now().Add(time.Hour)))).Code)
}

func TestStaffAuth_DisabledWithoutSecret(t *testing.T) {
	router := newRouter(handler.Options{Chat: stubChat{}, Control: stubControl{}})

	assert.Equal(t, http.StatusOK, get(router, "/v1/tenants/shop-1/bot", nil).Code)
}

func TestStaffAuthMiddleware_ExposesSubject(t *testing.T) {
	var subject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = handler.StaffSubjectFromContext(r.Context())
	})
	h := handler.StaffAuthMiddleware("s3cret", zap.NewNop())(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+signed(t, "s3cret", jwt.SigningMethodHS256, time.Now().Add(time.Hour)))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "staff-1", subject)
}
