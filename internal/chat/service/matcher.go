package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

// MatcherConfig bounds the page scan.
type MatcherConfig struct {
	// MaxPages is the most search pages evaluated for one intent.
	MaxPages int
	// PageSize is the number of candidates per page.
	PageSize int
	// ScoreCutoff stops the scan once the best score reaches it.
	ScoreCutoff float64

	SearchTimeout time.Duration
	AITimeout     time.Duration
}

// DefaultMatcherConfig returns the production defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MaxPages:      5,
		PageSize:      5,
		ScoreCutoff:   0.8,
		SearchTimeout: 5 * time.Second,
		AITimeout:     30 * time.Second,
	}
}

// MatchRequest is one product intent to resolve against the catalog.
type MatchRequest struct {
	TenantID    string
	Intent      domain.ProductIntent
	Query       string // text handed to the evaluator
	HistoryText string
	Prior       *domain.MatchResult
	Creds       domain.Credentials
}

// Matcher pages through search results and asks the evaluator which
// candidate, if any, is the product the customer means.
type Matcher struct {
	search  port.ProductSearcher
	ai      port.AIClient
	cfg     MatcherConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(search port.ProductSearcher, ai port.AIClient, cfg MatcherConfig, metrics *observability.Metrics, logger *zap.Logger) *Matcher {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	return &Matcher{search: search, ai: ai, cfg: cfg, metrics: metrics, logger: logger}
}

// Match evaluates up to MaxPages pages of candidates. When the intent names
// a category or properties, one strict page filtered on them is tried
// first. A PERFECT_MATCH ends the scan at once; otherwise the best-scoring
// evaluation is kept and the scan stops when it reaches ScoreCutoff or the
// results run out. A prior CLOSE_MATCH suggestion stays eligible on every
// page.
//
// Search failures are returned; evaluator failures count as NO_MATCH for
// that page.
func (m *Matcher) Match(ctx context.Context, req MatchRequest) (domain.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "Matcher.Match")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("intent.product_name", req.Intent.ProductName),
	)

	var best *domain.MatchResult
	// consider evaluates one page and reports whether the scan is done.
	consider := func(found []domain.Product) bool {
		if req.Prior.IsClose() && !containsProduct(found, req.Prior.Product.Key()) {
			found = append([]domain.Product{req.Prior.Product.Clone()}, found...)
		}
		if len(found) == 0 {
			return true
		}
		eval := m.evaluate(ctx, req, found)
		if eval.Type == domain.PerfectMatch {
			best = &eval
			return true
		}
		if best == nil || eval.Score > best.Score {
			best = &eval
		}
		return best.Score >= m.cfg.ScoreCutoff
	}

	done := false
	if strict, ok := strictQuery(req.Intent); ok {
		found, err := m.searchPage(ctx, req, strict, 0)
		if err != nil {
			return domain.MatchResult{}, err
		}
		if len(found) > 0 {
			done = consider(found)
		}
	}
	for page := 0; !done && page < m.cfg.MaxPages; page++ {
		found, err := m.searchPage(ctx, req, looseQuery, page)
		if err != nil {
			return domain.MatchResult{}, err
		}
		done = consider(found)
	}

	result := domain.MatchResult{Type: domain.NoMatch}
	if best != nil {
		result = *best
	}
	span.SetAttributes(
		attribute.String("match.type", string(result.Type)),
		attribute.Float64("match.score", result.Score),
	)
	m.metrics.IncrMatchResult(string(result.Type))
	return result, nil
}

// strictness selects which intent hints the search must match exactly.
type strictness struct {
	category   bool
	properties bool
}

var looseQuery = strictness{}

// strictQuery filters on whichever of category and properties the intent
// names. ok is false when there is nothing to be strict about.
func strictQuery(intent domain.ProductIntent) (strictness, bool) {
	s := strictness{
		category:   strings.TrimSpace(intent.Category) != "",
		properties: strings.TrimSpace(intent.Properties) != "",
	}
	return s, s.category || s.properties
}

func (m *Matcher) searchPage(ctx context.Context, req MatchRequest, strict strictness, page int) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx, m.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	found, err := m.search.SearchByText(ctx, port.TextQuery{
		TenantID:         req.TenantID,
		ProductName:      req.Intent.ProductName,
		Category:         req.Intent.Category,
		Properties:       req.Intent.Properties,
		Offset:           page * m.cfg.PageSize,
		PageSize:         m.cfg.PageSize,
		StrictCategory:   strict.category,
		StrictProperties: strict.properties,
	})
	m.metrics.RecordExternalCall("product_search", time.Since(start))
	if err != nil {
		m.metrics.IncrExternalError("product_search")
		return nil, fmt.Errorf("search page %d for %q: %w", page, req.Intent.ProductName, err)
	}
	return found, nil
}

func (m *Matcher) evaluate(ctx context.Context, req MatchRequest, found []domain.Product) domain.MatchResult {
	ctx, cancel := withTimeout(ctx, m.cfg.AITimeout)
	defer cancel()

	eval, err := m.ai.EvaluateProductMatch(ctx, req.Query, req.HistoryText, found, req.Creds)
	if err != nil {
		m.metrics.IncrExternalError("ai")
		m.logger.Warn("product evaluation failed, treating page as no match",
			zap.String("tenant_id", req.TenantID),
			zap.String("product_name", req.Intent.ProductName),
			zap.Error(err),
		)
		return domain.MatchResult{Type: domain.NoMatch}
	}
	if eval.Type != domain.NoMatch && eval.Product == nil {
		eval.Type = domain.NoMatch
	}
	return eval
}

// CheckInventory settles a matched item. Only a PERFECT_MATCH can be
// confirmed, and only when stock covers the requested quantity.
func CheckInventory(item domain.PendingOrderItem) domain.PendingOrderItem {
	out := item
	out.FailureReason = ""

	product := item.MatchedProduct()
	if item.Evaluation == nil || item.Evaluation.Type != domain.PerfectMatch || product == nil {
		out.Status = domain.ItemFailed
		return out
	}

	stock := product.StockQuantity()
	switch {
	case stock <= 0:
		out.Status = domain.ItemFailed
		out.FailureReason = domain.FailureOutOfStock
	case stock < item.Intent.Qty():
		out.Status = domain.ItemFailed
		out.FailureReason = domain.FailureInsufficientStock
	default:
		out.Status = domain.ItemConfirmed
	}
	return out
}

// EvaluationQuery picks the text the evaluator judges candidates against:
// the customer's own words when re-checking a close suggestion, otherwise a
// sentence built from the intent.
func EvaluationQuery(r *Replies, message string, item domain.PendingOrderItem) string {
	if item.Evaluation.IsClose() {
		return message
	}
	q := fill(r.PurchaseQuery, "qty", fmt.Sprint(item.Intent.Qty()), "name", item.Intent.ProductName)
	if props := strings.TrimSpace(item.Intent.Properties); props != "" {
		q += fill(r.PurchaseQueryProps, "props", props)
	}
	return q
}

func containsProduct(products []domain.Product, key string) bool {
	for _, p := range products {
		if p.Key() == key {
			return true
		}
	}
	return false
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
