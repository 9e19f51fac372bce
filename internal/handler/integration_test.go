package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/chat/service"
	"github.com/boddenberg/shopbot-core/internal/handler"
	"github.com/boddenberg/shopbot-core/internal/infra/lock"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
	"github.com/boddenberg/shopbot-core/internal/infra/sqlite"
)

// cannedAI answers every model call with fixed output.
type cannedAI struct{}

func (cannedAI) ClassifyIntent(_ context.Context, req port.IntentRequest) (domain.IntentAnalysis, error) {
	return domain.IntentAnalysis{
		NeedsSearch:  true,
		SearchParams: domain.SearchParams{Products: []domain.ProductIntent{{ProductName: "sofa"}}},
	}, nil
}
func (cannedAI) ExtractCustomerInfo(context.Context, string, domain.Credentials) (domain.CustomerInfo, error) {
	return domain.CustomerInfo{}, nil
}
func (cannedAI) EvaluateProductMatch(context.Context, string, string, []domain.Product, domain.Credentials) (domain.MatchResult, error) {
	return domain.MatchResult{Type: domain.NoMatch}, nil
}
func (cannedAI) FilterProductsByRelevance(_ context.Context, _, _ string, products []domain.Product, _ domain.Credentials) ([]domain.Product, error) {
	return products, nil
}
func (cannedAI) EvaluateConfirmation(context.Context, string, string, domain.Credentials) (domain.ConfirmationDecision, error) {
	return domain.DecisionUnclear, nil
}
func (cannedAI) DescribeImage(context.Context, port.ImageInput, domain.Credentials) (string, error) {
	return "", nil
}
func (cannedAI) ClassifyShowMore(context.Context, string, string, domain.Credentials) (domain.ShowMoreIntent, error) {
	return domain.ShowMoreOther, nil
}
func (cannedAI) GenerateReply(_ context.Context, req port.ReplyRequest) (port.Reply, error) {
	if len(req.Products) == 0 {
		return port.Reply{Text: "Dạ hiện shop chưa có ạ"}, nil
	}
	return port.Reply{Text: "Dạ shop có " + req.Products[0].ProductName + " ạ"}, nil
}

type catalog []domain.Product

func (c catalog) SearchByText(_ context.Context, q port.TextQuery) ([]domain.Product, error) {
	if q.Offset > 0 {
		return nil, nil
	}
	return c, nil
}

func newIntegrationServer(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	db, err := sqlite.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locker := lock.NewLocal()
	replies := service.DefaultReplies()
	ctrl := service.NewControlService(db.Control(), db.Sessions(), db.ChatLog(), db.Customers(), locker, replies, 0, metrics, logger)
	t.Cleanup(ctrl.Close)

	search := catalog{{ProductName: "Sofa Milan", Price: "12500000", Inventory: "3"}}
	ai := cannedAI{}
	chatSvc := service.NewChatService(service.Deps{
		Sessions: db.Sessions(),
		ChatLog:  db.ChatLog(),
		Search:   search,
		AI:       ai,
		Locker:   locker,
		Control:  ctrl,
		Matcher:  service.NewMatcher(search, ai, service.DefaultMatcherConfig(), metrics, logger),
		Orders:   service.NewOrderBuilder(db.Customers(), metrics, logger),
		Replies:  replies,
	}, service.DefaultConfig(), metrics, logger)

	return handler.NewRouter(handler.Options{
		Chat:         chatSvc,
		Control:      ctrl,
		Dependencies: map[string]handler.Pinger{"records": db},
	}, metrics, logger)
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_FullFlow drives a conversation and the staff endpoints
// over HTTP against the sqlite store.
func TestIntegration_FullFlow(t *testing.T) {
	srv := newIntegrationServer(t)
	msg := map[string]string{"message": "shop có sofa không", "api_key": "key"}

	// --- A customer asks about a product ---
	rec := call(t, srv, http.MethodPost, "/v1/chat/shop-1/sess-1", msg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Dạ shop có Sofa Milan ạ", resp.Reply)
	require.Len(t, resp.History, 1)
	assert.Equal(t, "shop có sofa không", resp.History[0].User)
	assert.False(t, resp.HumanHandoverRequired)

	// --- Staff see the session ---
	rec = call(t, srv, http.MethodGet, "/v1/tenants/shop-1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id":"sess-1"`)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)

	rec = call(t, srv, http.MethodGet, "/v1/tenants/shop-1/sessions/sess-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sofa Milan")

	// --- Tenant kill switch short-circuits the bot ---
	rec = call(t, srv, http.MethodPost, "/v1/tenants/shop-1/bot", map[string]string{"command": "stop"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, srv, http.MethodPost, "/v1/chat/shop-1/sess-1", msg)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = domain.ChatResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, service.DefaultReplies().TenantPaused, resp.Reply)

	rec = call(t, srv, http.MethodPost, "/v1/tenants/shop-1/bot", map[string]string{"command": "start"})
	require.Equal(t, http.StatusOK, rec.Code)

	// --- Staff clear the history ---
	rec = call(t, srv, http.MethodDelete, "/v1/tenants/shop-1/sessions/sess-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())

	// --- Orders need a filter ---
	rec = call(t, srv, http.MethodGet, "/v1/tenants/shop-1/orders", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = call(t, srv, http.MethodGet, "/v1/tenants/shop-1/orders?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orders":[],"total":0}`, rec.Body.String())
}

func TestIntegration_InputErrors(t *testing.T) {
	srv := newIntegrationServer(t)

	rec := call(t, srv, http.MethodPost, "/v1/chat/shop-1/sess-1", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_key")

	rec = call(t, srv, http.MethodPost, "/v1/chat/shop-1/sess-1", map[string]string{"api_key": "key"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/readyz", nil).Code)
}
