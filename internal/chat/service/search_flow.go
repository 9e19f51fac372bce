package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
)

// ============================================================
// Show more: pagination over the last search
// ============================================================

type showMoreStrategy struct{ s *ChatService }

func (st *showMoreStrategy) Name() string { return "show_more" }

func (st *showMoreStrategy) CanHandle(t *Turn) bool { return t.ShowMore == domain.ShowMoreMore }

// Handle fetches the next page of every product of the last query and
// shows only what the customer has not seen yet.
func (st *showMoreStrategy) Handle(ctx context.Context, t *Turn) (*Outcome, error) {
	s, r := st.s, st.s.Replies
	if t.Data.LastQuery == nil || len(t.Data.LastQuery.Products) == 0 {
		out := reply(r.NoSearchContext, t.Data)
		return &out, nil
	}

	ctx, span := tracer.Start(ctx, "ChatService.ShowMore")
	defer span.End()

	offset := t.Data.Offset + s.cfg.PageSize
	span.SetAttributes(attribute.Int("search.offset", offset))

	batches, err := s.fanOut(ctx, t.Data.LastQuery.Products, func(ctx context.Context, in domain.ProductIntent) ([]domain.Product, error) {
		return s.searchText(ctx, t.TenantID, in, offset)
	})
	if err != nil {
		return nil, err
	}
	candidates := s.filterRelevant(ctx, t, t.Message, flatten(batches))

	var fresh []domain.Product
	for _, p := range candidates {
		if t.Data.ShownProductKeys.Contains(p.Key()) || containsProduct(fresh, p.Key()) {
			continue
		}
		fresh = append(fresh, p)
	}

	if len(fresh) == 0 {
		out := reply(r.PaginationExhausted, advancePage(t.Data, offset, nil))
		return &out, nil
	}

	rep, err := s.generate(ctx, t, fresh, true, false)
	if err != nil {
		return nil, err
	}
	out := reply(rep.Text, advancePage(t.Data, offset, fresh))
	out.Products = fresh
	out.ImageNames = rep.ImageNames
	out.WantsImages = t.Analysis.WantsImages
	return &out, nil
}

// ============================================================
// New query: the fallback branch
// ============================================================

type newQueryStrategy struct{ s *ChatService }

func (st *newQueryStrategy) Name() string { return "new_query" }

func (st *newQueryStrategy) CanHandle(*Turn) bool { return true }

// Handle searches each requested product from the first page, remembers
// the query for pagination and lets the model answer.
func (st *newQueryStrategy) Handle(ctx context.Context, t *Turn) (*Outcome, error) {
	s := st.s
	data := t.Data
	intents := t.Analysis.Products()

	var products []domain.Product
	switch {
	case t.Analysis.NeedsSearch && len(intents) > 0:
		batches, err := s.fanOut(ctx, intents, func(ctx context.Context, in domain.ProductIntent) ([]domain.Product, error) {
			found, err := s.searchText(ctx, t.TenantID, in, 0)
			if err != nil {
				return nil, err
			}
			return s.filterRelevant(ctx, t, subQuery(in), found), nil
		})
		if err != nil {
			return nil, err
		}
		products = flatten(batches)
		data = rememberQuery(data, intents, products)
	case t.Analysis.NeedsSearch:
		data = forgetQuery(data)
	}

	rep, err := s.generate(ctx, t, products, t.Analysis.NeedsSearch, false)
	if err != nil {
		return nil, err
	}
	out := reply(rep.Text, data)
	out.Products = products
	out.ImageNames = rep.ImageNames
	out.WantsImages = t.Analysis.WantsImages
	return &out, nil
}

// ============================================================
// Search helpers
// ============================================================

// fanOut runs fn for every intent concurrently, bounded by
// SearchConcurrency. Results keep the intent order; the first error wins.
func (s *ChatService) fanOut(ctx context.Context, intents []domain.ProductIntent, fn func(context.Context, domain.ProductIntent) ([]domain.Product, error)) ([][]domain.Product, error) {
	results := make([][]domain.Product, len(intents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SearchConcurrency)
	for i, in := range intents {
		g.Go(func() error {
			found, err := fn(gctx, in)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// searchText runs one relaxed text search page.
func (s *ChatService) searchText(ctx context.Context, tenantID string, in domain.ProductIntent, offset int) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	found, err := s.Search.SearchByText(ctx, port.TextQuery{
		TenantID:    tenantID,
		ProductName: in.ProductName,
		Category:    in.Category,
		Properties:  in.Properties,
		Offset:      offset,
		PageSize:    s.cfg.PageSize,
	})
	s.metrics.RecordExternalCall("product_search", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("product_search")
		return nil, err
	}
	return found, nil
}

// filterRelevant keeps the products the model considers relevant to
// query. On failure the input is returned unfiltered.
func (s *ChatService) filterRelevant(ctx context.Context, t *Turn, query string, products []domain.Product) []domain.Product {
	if len(products) == 0 {
		return products
	}
	ctx, cancel := withTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	kept, err := s.AI.FilterProductsByRelevance(ctx, query, HistoryText(t.History, 4), products, t.Creds)
	if err != nil {
		s.metrics.IncrExternalError("ai")
		s.logger.Warn("relevance filter failed, keeping all candidates",
			zap.String("tenant_id", t.TenantID),
			zap.Int("candidates", len(products)),
			zap.Error(err),
		)
		return products
	}
	return kept
}

func subQuery(in domain.ProductIntent) string {
	return strings.TrimSpace(in.ProductName + " " + in.Properties)
}

func flatten(batches [][]domain.Product) []domain.Product {
	var out []domain.Product
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}
