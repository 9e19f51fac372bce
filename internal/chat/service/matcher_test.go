package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

func newTestMatcher(search *fakeSearch, ai *fakeAI) *Matcher {
	return NewMatcher(search, ai, DefaultMatcherConfig(), observability.NewMetrics(), zap.NewNop())
}

// pages returns one product per page for the first n pages.
func pages(n int) func(q port.TextQuery) ([]domain.Product, error) {
	return func(q port.TextQuery) ([]domain.Product, error) {
		page := q.Offset / 5
		if page >= n {
			return nil, nil
		}
		return []domain.Product{product("Áo", "v"+itoa(page), 1)}, nil
	}
}

func TestMatcher_PerfectMatchStopsScan(t *testing.T) {
	search := &fakeSearch{fn: pages(5)}
	ai := &fakeAI{evaluate: func(_ string, found []domain.Product) (domain.MatchResult, error) {
		p := found[0]
		return domain.MatchResult{Type: domain.PerfectMatch, Product: &p, Score: 0.5}, nil
	}}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{
		TenantID: testTenant, Intent: domain.ProductIntent{ProductName: "Áo"},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PerfectMatch, res.Type)
	assert.Equal(t, 1, search.callCount())
	assert.False(t, search.calls[0].StrictCategory)
	assert.False(t, search.calls[0].StrictProperties)
}

func TestMatcher_StopsAtScoreCutoff(t *testing.T) {
	search := &fakeSearch{fn: pages(5)}
	scores := []float64{0.3, 0.85, 0.99}
	ai := &fakeAI{}
	ai.evaluate = func(_ string, found []domain.Product) (domain.MatchResult, error) {
		p := found[0]
		return domain.MatchResult{Type: domain.CloseMatch, Product: &p, Score: scores[ai.evalCall-1]}, nil
	}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{Intent: domain.ProductIntent{ProductName: "Áo"}})

	require.NoError(t, err)
	assert.Equal(t, 2, ai.evalCall)
	assert.Equal(t, 0.85, res.Score)
	assert.Equal(t, "v1", string(res.Product.Properties))
	assert.Equal(t, []int{0, 5}, []int{search.calls[0].Offset, search.calls[1].Offset})
}

func TestMatcher_KeepsBestAcrossPages(t *testing.T) {
	search := &fakeSearch{fn: pages(3)}
	scores := []float64{0.4, 0.6, 0.5}
	ai := &fakeAI{}
	ai.evaluate = func(_ string, found []domain.Product) (domain.MatchResult, error) {
		p := found[0]
		return domain.MatchResult{Type: domain.CloseMatch, Product: &p, Score: scores[ai.evalCall-1]}, nil
	}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{Intent: domain.ProductIntent{ProductName: "Áo"}})

	require.NoError(t, err)
	assert.Equal(t, 0.6, res.Score)
	assert.Equal(t, 3, ai.evalCall)
	assert.Equal(t, 4, search.callCount(), "scan stops at the first empty page")
}

func TestMatcher_NoCandidatesIsNoMatch(t *testing.T) {
	search := &fakeSearch{}
	ai := &fakeAI{}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{Intent: domain.ProductIntent{ProductName: "Áo"}})

	require.NoError(t, err)
	assert.Equal(t, domain.NoMatch, res.Type)
	assert.Zero(t, ai.evalCall)
	assert.Equal(t, 1, search.callCount())
}

func TestMatcher_PriorSuggestionStaysEligible(t *testing.T) {
	prior := product("Áo", "Đỏ", 3)
	search := &fakeSearch{fn: pages(1)}
	var seen [][]domain.Product
	ai := &fakeAI{evaluate: func(_ string, found []domain.Product) (domain.MatchResult, error) {
		seen = append(seen, found)
		return domain.MatchResult{Type: domain.PerfectMatch, Product: &found[0], Score: 1}, nil
	}}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{
		Intent: domain.ProductIntent{ProductName: "Áo"},
		Prior:  &domain.MatchResult{Type: domain.CloseMatch, Product: &prior, Score: 0.6},
	})

	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Len(t, seen[0], 2)
	assert.Equal(t, prior.Key(), seen[0][0].Key())
	assert.Equal(t, prior.Key(), res.Product.Key())
}

func TestMatcher_EvaluatorFailureCountsAsNoMatch(t *testing.T) {
	search := &fakeSearch{fn: pages(1)}
	ai := &fakeAI{evaluate: func(string, []domain.Product) (domain.MatchResult, error) {
		return domain.MatchResult{}, errBoom
	}}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{Intent: domain.ProductIntent{ProductName: "Áo"}})

	require.NoError(t, err)
	assert.Equal(t, domain.NoMatch, res.Type)
	assert.Zero(t, res.Score)
}

func TestMatcher_ResultWithoutProductIsNoMatch(t *testing.T) {
	search := &fakeSearch{fn: pages(1)}
	ai := &fakeAI{evaluate: func(string, []domain.Product) (domain.MatchResult, error) {
		return domain.MatchResult{Type: domain.PerfectMatch, Score: 1}, nil
	}}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{Intent: domain.ProductIntent{ProductName: "Áo"}})

	require.NoError(t, err)
	assert.Equal(t, domain.NoMatch, res.Type)
}

func TestMatcher_SearchFailureIsReturned(t *testing.T) {
	search := &fakeSearch{fn: func(port.TextQuery) ([]domain.Product, error) { return nil, errBoom }}

	_, err := newTestMatcher(search, &fakeAI{}).Match(context.Background(), MatchRequest{Intent: domain.ProductIntent{ProductName: "Áo"}})

	assert.ErrorIs(t, err, errBoom)
}

func TestCheckInventory(t *testing.T) {
	perfect := func(inventory, qty int) domain.PendingOrderItem {
		p := product("Áo", "", inventory)
		return domain.PendingOrderItem{
			Intent:     domain.ProductIntent{ProductName: "Áo", Quantity: qty},
			Status:     domain.ItemPending,
			Evaluation: &domain.MatchResult{Type: domain.PerfectMatch, Product: &p, Score: 1},
		}
	}

	tests := []struct {
		name   string
		item   domain.PendingOrderItem
		status domain.ItemStatus
		reason domain.FailureReason
	}{
		{"out of stock", perfect(0, 1), domain.ItemFailed, domain.FailureOutOfStock},
		{"enough stock", perfect(5, 3), domain.ItemConfirmed, ""},
		{"exact stock", perfect(5, 5), domain.ItemConfirmed, ""},
		{"insufficient stock", perfect(5, 10), domain.ItemFailed, domain.FailureInsufficientStock},
		{"quantity defaults to one", perfect(1, 0), domain.ItemConfirmed, ""},
		{"close match never confirms", domain.PendingOrderItem{
			Evaluation: &domain.MatchResult{Type: domain.CloseMatch, Product: &domain.Product{Inventory: "9"}},
		}, domain.ItemFailed, ""},
		{"no evaluation", domain.PendingOrderItem{}, domain.ItemFailed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckInventory(tt.item)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.reason, got.FailureReason)
		})
	}
}

func TestEvaluationQuery(t *testing.T) {
	r := DefaultReplies()
	item := domain.PendingOrderItem{Intent: domain.ProductIntent{ProductName: "áo thun", Properties: "đỏ", Quantity: 2}}
	assert.Equal(t, "khách muốn mua 2 áo thun loại đỏ", EvaluationQuery(r, "lấy cái đỏ", item))

	p := product("Áo thun", "Đỏ", 1)
	item.Evaluation = &domain.MatchResult{Type: domain.CloseMatch, Product: &p}
	assert.Equal(t, "lấy cái đỏ", EvaluationQuery(r, "lấy cái đỏ", item))
}

func TestMatcher_StrictPassFirstWhenIntentHasHints(t *testing.T) {
	exact := product("Sofa Milan", "Xám", 2)
	search := &fakeSearch{fn: func(q port.TextQuery) ([]domain.Product, error) {
		if q.StrictProperties {
			return []domain.Product{exact}, nil
		}
		return []domain.Product{product("Sofa Milan", "Be", 2)}, nil
	}}
	ai := &fakeAI{evaluate: func(_ string, found []domain.Product) (domain.MatchResult, error) {
		return domain.MatchResult{Type: domain.PerfectMatch, Product: &found[0], Score: 1}, nil
	}}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{
		Intent: domain.ProductIntent{ProductName: "Sofa Milan", Properties: "Xám"},
	})

	require.NoError(t, err)
	require.Equal(t, 1, search.callCount())
	assert.True(t, search.calls[0].StrictProperties)
	assert.False(t, search.calls[0].StrictCategory)
	assert.Zero(t, search.calls[0].Offset)
	assert.Equal(t, exact.Key(), res.Product.Key())
}

func TestMatcher_StrictPassFallsBackToLoosePages(t *testing.T) {
	search := &fakeSearch{fn: func(q port.TextQuery) ([]domain.Product, error) {
		if q.StrictCategory || q.Offset > 0 {
			return nil, nil
		}
		return []domain.Product{product("Bàn Oslo", "Gỗ sồi", 4)}, nil
	}}
	ai := &fakeAI{evaluate: func(_ string, found []domain.Product) (domain.MatchResult, error) {
		return domain.MatchResult{Type: domain.CloseMatch, Product: &found[0], Score: 0.6}, nil
	}}

	res, err := newTestMatcher(search, ai).Match(context.Background(), MatchRequest{
		Intent: domain.ProductIntent{ProductName: "Bàn Oslo", Category: "bàn ăn"},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.CloseMatch, res.Type)
	assert.Equal(t, 1, ai.evalCall, "an empty strict page is not evaluated")
	require.Equal(t, 3, search.callCount())
	assert.True(t, search.calls[0].StrictCategory)
	assert.False(t, search.calls[1].StrictCategory)
	assert.Equal(t, 5, search.calls[2].Offset)
}

func TestMatcher_StrictSearchFailureAborts(t *testing.T) {
	search := &fakeSearch{fn: func(port.TextQuery) ([]domain.Product, error) { return nil, errBoom }}

	_, err := newTestMatcher(search, &fakeAI{}).Match(context.Background(), MatchRequest{
		Intent: domain.ProductIntent{ProductName: "Áo", Properties: "Đỏ"},
	})

	assert.ErrorIs(t, err, errBoom)
}
