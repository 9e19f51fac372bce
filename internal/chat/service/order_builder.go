package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

// OrderBuilder merges customer details into profiles and turns confirmed
// items into orders.
type OrderBuilder struct {
	store   port.CustomerStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOrderBuilder creates an OrderBuilder.
func NewOrderBuilder(store port.CustomerStore, metrics *observability.Metrics, logger *zap.Logger) *OrderBuilder {
	return &OrderBuilder{store: store, metrics: metrics, logger: logger}
}

// ProfileLookup resolves a profile by session or, failing that, by phone.
type ProfileLookup struct {
	SessionID string
	Phone     string
}

// FindProfile resolves a profile by session first, then by phone.
// It returns (nil, nil) when neither matches.
func (b *OrderBuilder) FindProfile(ctx context.Context, tenantID string, by ProfileLookup) (*domain.CustomerProfile, error) {
	if by.SessionID != "" {
		p, err := b.store.ProfileBySession(ctx, tenantID, by.SessionID)
		if err != nil {
			return nil, fmt.Errorf("profile by session: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}
	if phone := strings.TrimSpace(by.Phone); phone != "" {
		p, err := b.store.ProfileByPhone(ctx, tenantID, phone)
		if err != nil {
			return nil, fmt.Errorf("profile by phone: %w", err)
		}
		return p, nil
	}
	return nil, nil
}

// UpsertProfile finds the profile for the session, or one with the same
// phone in the tenant (rebinding it to this session), and applies only the
// non-blank fields. A new profile is created when none is found.
func (b *OrderBuilder) UpsertProfile(ctx context.Context, tenantID, sessionID string, f domain.ProfileFields) (*domain.CustomerProfile, error) {
	ctx, span := tracer.Start(ctx, "OrderBuilder.UpsertProfile")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	existing, err := b.FindProfile(ctx, tenantID, ProfileLookup{SessionID: sessionID, Phone: f.Phone})
	if err != nil {
		return nil, err
	}

	if existing == nil {
		created, err := b.store.CreateProfile(ctx, applyProfileFields(&domain.CustomerProfile{
			TenantID:  tenantID,
			SessionID: sessionID,
		}, f))
		if err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		b.logger.Info("customer profile created",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", sessionID),
			zap.String("profile_id", created.ID),
		)
		return created, nil
	}

	updated := applyProfileFields(existing, f)
	if updated.SessionID != sessionID {
		b.logger.Info("customer profile rebound to new session",
			zap.String("tenant_id", tenantID),
			zap.String("profile_id", existing.ID),
			zap.String("from_session", updated.SessionID),
			zap.String("to_session", sessionID),
		)
		updated.SessionID = sessionID
	}
	saved, err := b.store.UpdateProfile(ctx, updated)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return saved, nil
}

// applyProfileFields returns a copy of p with every non-blank field of f applied.
func applyProfileFields(p *domain.CustomerProfile, f domain.ProfileFields) *domain.CustomerProfile {
	out := *p
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&out.Name, f.Name)
	set(&out.Phone, f.Phone)
	set(&out.Address, f.Address)
	set(&out.Email, f.Email)
	set(&out.Notes, f.Notes)
	return &out
}

// HasPriorOrders reports whether the resolved profile has at least one order.
func (b *OrderBuilder) HasPriorOrders(ctx context.Context, tenantID string, by ProfileLookup) (bool, error) {
	p, err := b.FindProfile(ctx, tenantID, by)
	if err != nil || p == nil {
		return false, err
	}
	return b.profileHasOrders(ctx, p)
}

func (b *OrderBuilder) profileHasOrders(ctx context.Context, p *domain.CustomerProfile) (bool, error) {
	n, err := b.store.CountOrders(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("count orders: %w", err)
	}
	return n > 0, nil
}

// LastOrder returns the most recent order of the profile, or nil.
func (b *OrderBuilder) LastOrder(ctx context.Context, profileID string) (*domain.Order, error) {
	orders, err := b.store.OrdersByProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("orders by profile: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// CreateOrder inserts the order and then each line. Placeholder properties
// ("0", blank, N/A) are stored as no properties.
func (b *OrderBuilder) CreateOrder(ctx context.Context, profile *domain.CustomerProfile, status domain.OrderStatus, lines []domain.OrderLine) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "OrderBuilder.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", profile.TenantID),
		attribute.Int("order.lines", len(lines)),
	)

	order, err := b.store.CreateOrder(ctx, &domain.Order{
		TenantID:  profile.TenantID,
		SessionID: profile.SessionID,
		ProfileID: profile.ID,
		Status:    status,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, l := range lines {
		qty := l.Quantity
		if qty <= 0 {
			qty = 1
		}
		item, err := b.store.AddOrderItem(ctx, &domain.OrderItem{
			OrderID:     order.ID,
			ProductName: l.ProductName,
			Properties:  domain.NormalizeProperties(l.Properties),
			Quantity:    qty,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.UnitPrice * float64(qty),
		})
		if err != nil {
			return nil, fmt.Errorf("add order item %q: %w", l.ProductName, err)
		}
		order.Items = append(order.Items, *item)
	}

	b.metrics.IncrOrderCreated()
	b.logger.Info("order created",
		zap.String("tenant_id", profile.TenantID),
		zap.String("order_id", order.ID),
		zap.String("profile_id", profile.ID),
		zap.Int("items", len(order.Items)),
	)
	return order, nil
}

// linesFromPending converts confirmed pending items into order lines and
// the matching purchase payload items.
func linesFromPending(items []domain.PendingOrderItem) ([]domain.OrderLine, []domain.PurchaseItem) {
	lines := make([]domain.OrderLine, 0, len(items))
	purchase := make([]domain.PurchaseItem, 0, len(items))
	for _, it := range items {
		name := "N/A"
		props := ""
		price := 0.0
		if p := it.MatchedProduct(); p != nil {
			name = p.ProductName
			props = p.CleanProperties()
			price = parsePrice(p.Price)
		}
		lines = append(lines, domain.OrderLine{
			ProductName: name,
			Properties:  props,
			Quantity:    it.Intent.Qty(),
			UnitPrice:   price,
		})
		purchase = append(purchase, domain.PurchaseItem{
			ProductName: name,
			Properties:  props,
			Quantity:    it.Intent.Qty(),
		})
	}
	return lines, purchase
}

func parsePrice(f domain.FlexString) float64 {
	var v float64
	s := strings.NewReplacer(",", "", ".", "", " ", "", "đ", "", "VND", "").Replace(string(f))
	if _, err := fmt.Sscan(s, &v); err != nil {
		return 0
	}
	return v
}
