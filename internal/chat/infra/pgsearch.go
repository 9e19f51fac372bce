package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

// ============================================================
// ProductSearch: catalog text search on Postgres
// ============================================================
//
// The catalog lives in a products table shared by every tenant:
//
//	products(tenant_id, product_name, category, properties, specifications,
//	         price, inventory, link_product, avatar_images text[])
//
// Every name token must appear in product_name. Ranking puts exact phrase
// hits first (10), then category hits (5), then properties hits (1).
// Strict flags turn the category and properties hints into filters.

// Ranking weights.
const (
	phraseBoost     = 10
	categoryBoost   = 5
	propertiesBoost = 1
)

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ProductSearch implements port.ProductSearcher.
type ProductSearch struct {
	db      rowsQuerier
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewProductSearch creates a ProductSearch over an open pool.
func NewProductSearch(pool *pgxpool.Pool, metrics *observability.Metrics, logger *zap.Logger) *ProductSearch {
	return &ProductSearch{db: pool, metrics: metrics, logger: logger}
}

// OpenCatalog connects to the catalog database and checks the connection.
func OpenCatalog(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnIdleTime = 10 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	return pool, nil
}

// SearchByText returns one page of products for the query. A query with no
// name, category or properties returns no products without touching the database.
func (s *ProductSearch) SearchByText(ctx context.Context, q port.TextQuery) ([]domain.Product, error) {
	ctx, span := tracer.Start(ctx, "ProductSearch.SearchByText")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", q.TenantID),
		attribute.Int("search.offset", q.Offset),
	)

	sql, args, ok := buildTextQuery(q)
	if !ok {
		return nil, nil
	}

	start := time.Now()
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		s.metrics.IncrExternalError("catalog")
		return nil, &appdomain.ErrExternalService{Service: "catalog", Err: err}
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	s.metrics.RecordExternalCall("catalog", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("catalog")
		return nil, &appdomain.ErrExternalService{Service: "catalog", Err: err}
	}

	s.logger.Debug("catalog search",
		zap.String("tenant_id", q.TenantID),
		zap.String("product_name", q.ProductName),
		zap.Int("offset", q.Offset),
		zap.Int("found", len(products)),
	)
	return products, nil
}

func scanProduct(row pgx.CollectableRow) (domain.Product, error) {
	var (
		p                            domain.Product
		properties, price, inventory string
	)
	err := row.Scan(&p.ProductName, &p.Category, &properties, &p.Specifications,
		&price, &inventory, &p.LinkProduct, &p.AvatarImages)
	p.Properties = domain.FlexString(properties)
	p.Price = domain.FlexString(price)
	p.Inventory = domain.FlexString(inventory)
	return p, err
}

// buildTextQuery renders the search as SQL with positional arguments.
// It reports false when the query has nothing to search for.
func buildTextQuery(q port.TextQuery) (string, []any, bool) {
	name := strings.TrimSpace(q.ProductName)
	category := strings.TrimSpace(q.Category)
	props := strings.TrimSpace(q.Properties)
	if q.TenantID == "" || (name == "" && category == "" && props == "") {
		return "", nil, false
	}

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	where := []string{"tenant_id = " + arg(q.TenantID)}
	var rank []string

	if name != "" {
		for _, tok := range strings.Fields(name) {
			where = append(where, "product_name ILIKE "+arg(contains(tok)))
		}
		rank = append(rank, fmt.Sprintf("CASE WHEN product_name ILIKE %s THEN %d ELSE 0 END", arg(contains(name)), phraseBoost))
	}

	var hints []string
	if category != "" {
		p := arg(contains(category))
		if q.StrictCategory {
			where = append(where, "lower(category) = lower("+arg(category)+")")
		} else {
			hints = append(hints, "category ILIKE "+p)
		}
		rank = append(rank, fmt.Sprintf("CASE WHEN category ILIKE %s THEN %d ELSE 0 END", p, categoryBoost))
	}

	if props != "" {
		var all []string
		for _, tok := range strings.Fields(props) {
			all = append(all, "properties ILIKE "+arg(contains(tok)))
		}
		match := "(" + strings.Join(all, " AND ") + ")"
		if q.StrictProperties {
			where = append(where, match)
		} else {
			hints = append(hints, match)
		}
		rank = append(rank, fmt.Sprintf("CASE WHEN %s THEN %d ELSE 0 END", match, propertiesBoost))
	}

	// Without a name the loose hints are the only thing to match on.
	if name == "" && len(hints) > 0 {
		where = append(where, "("+strings.Join(hints, " OR ")+")")
	}

	size := q.PageSize
	if size <= 0 {
		size = 5
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	sql := `SELECT product_name, COALESCE(category, ''), COALESCE(properties::text, ''),
	COALESCE(specifications, ''), COALESCE(price::text, ''), COALESCE(inventory::text, ''),
	COALESCE(link_product, ''), COALESCE(avatar_images, '{}')
FROM products
WHERE ` + strings.Join(where, "\n  AND ") + `
ORDER BY ` + strings.Join(rank, " + ") + ` DESC, product_name, properties
LIMIT ` + arg(size) + ` OFFSET ` + arg(offset)

	return sql, args, true
}

// contains wraps s for a substring ILIKE, escaping LIKE wildcards.
func contains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
