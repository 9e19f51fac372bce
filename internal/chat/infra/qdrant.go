package infra

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

// ============================================================
// ImageSearch: product image similarity on Qdrant
// ============================================================
//
// Each point is one product image embedding. The payload carries the
// tenant_id used for filtering and the product fields returned to callers.

type pointQuerier interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// QdrantConfig holds the Qdrant connection settings.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// ImageSearch implements port.ImageSearcher.
type ImageSearch struct {
	client     pointQuerier
	collection string
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewQdrantClient opens a gRPC client to Qdrant.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return c, nil
}

// NewImageSearch creates an ImageSearch on the given collection.
func NewImageSearch(client *qdrant.Client, collection string, metrics *observability.Metrics, logger *zap.Logger) *ImageSearch {
	return &ImageSearch{client: client, collection: collection, metrics: metrics, logger: logger}
}

// SearchByImageEmbedding returns up to topK products of the tenant whose
// image similarity is at least minSimilarity, best first.
func (s *ImageSearch) SearchByImageEmbedding(ctx context.Context, tenantID string, vector []float32, topK int, minSimilarity float32) ([]domain.Product, error) {
	if tenantID == "" || len(vector) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "ImageSearch.SearchByImageEmbedding")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.Int("search.top_k", topK))

	if topK <= 0 {
		topK = 1
	}
	limit := uint64(topK)
	threshold := minSimilarity

	start := time.Now()
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("tenant_id", tenantID)},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	s.metrics.RecordExternalCall("qdrant", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("qdrant")
		return nil, &appdomain.ErrExternalService{Service: "qdrant", Err: err}
	}

	out := make([]domain.Product, 0, len(points))
	for _, p := range points {
		if p.Score < minSimilarity {
			continue
		}
		out = append(out, productFromPayload(p.Payload))
	}
	s.logger.Debug("image search",
		zap.String("tenant_id", tenantID),
		zap.Int("found", len(out)),
	)
	return out, nil
}

// productFromPayload maps a point payload to a product. Numeric inventory
// and price values are kept as their text form.
func productFromPayload(payload map[string]*qdrant.Value) domain.Product {
	return domain.Product{
		ProductName:    payloadString(payload["product_name"]),
		Category:       payloadString(payload["category"]),
		Properties:     domain.FlexString(payloadString(payload["properties"])),
		Specifications: payloadString(payload["specifications"]),
		Price:          domain.FlexString(payloadString(payload["price"])),
		Inventory:      domain.FlexString(payloadString(payload["inventory"])),
		LinkProduct:    payloadString(payload["link_product"]),
		AvatarImages:   payloadStrings(payload["avatar_images"]),
	}
}

func payloadString(v *qdrant.Value) string {
	if v == nil {
		return ""
	}
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	}
	return ""
}

func payloadStrings(v *qdrant.Value) []string {
	if v == nil {
		return nil
	}
	if s := v.GetStringValue(); s != "" {
		return []string{s}
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.Values))
	for _, item := range list.Values {
		if s := payloadString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
