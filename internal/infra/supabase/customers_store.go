package supabase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
)

// ============================================================
// Customers store: profiles and orders, implements port.CustomerStore
// ============================================================

// CustomerStore reads and writes customer_profiles, orders and order_items.
type CustomerStore struct{ c *Client }

// Customers returns the profile and order view of the client.
func (c *Client) Customers() *CustomerStore { return &CustomerStore{c: c} }

// orderSelect embeds the order lines so one request returns whole orders.
const orderSelect = "select=*,items:order_items(*)&items.order=created_at.asc"

// ProfileBySession returns the newest profile bound to the session, or nil.
func (s *CustomerStore) ProfileBySession(ctx context.Context, tenantID, sessionID string) (*domain.CustomerProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ProfileBySession")
	defer span.End()
	return s.profile(ctx, query("customer_profiles", eq("tenant_id", tenantID), eq("session_id", sessionID), "order=updated_at.desc", "limit=1"))
}

// ProfileByPhone returns the newest profile with the phone, or nil.
func (s *CustomerStore) ProfileByPhone(ctx context.Context, tenantID, phone string) (*domain.CustomerProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ProfileByPhone")
	defer span.End()
	return s.profile(ctx, query("customer_profiles", eq("tenant_id", tenantID), eq("phone", phone), "order=updated_at.desc", "limit=1"))
}

func (s *CustomerStore) profile(ctx context.Context, path string) (*domain.CustomerProfile, error) {
	rows, err := getRows[domain.CustomerProfile](ctx, s.c, path)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func profileRow(p *domain.CustomerProfile) map[string]any {
	return map[string]any{
		"tenant_id":  p.TenantID,
		"session_id": p.SessionID,
		"name":       p.Name,
		"phone":      p.Phone,
		"address":    p.Address,
		"email":      p.Email,
		"notes":      p.Notes,
	}
}

// CreateProfile inserts a profile; the database assigns the ID.
func (s *CustomerStore) CreateProfile(ctx context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", p.TenantID))

	body, err := s.c.doPost(ctx, "customer_profiles", profileRow(p))
	if err != nil {
		return nil, err
	}
	var created domain.CustomerProfile
	ok, err := firstRow(body, &created)
	if err != nil {
		return nil, fmt.Errorf("decode customer_profiles: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("create profile: no row returned")
	}
	return &created, nil
}

// UpdateProfile overwrites the profile's fields and session binding.
func (s *CustomerStore) UpdateProfile(ctx context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfile")
	defer span.End()

	row := profileRow(p)
	delete(row, "tenant_id")
	row["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	body, err := s.c.doPatch(ctx, query("customer_profiles", eq("id", p.ID)), row)
	if err != nil {
		return nil, err
	}
	var updated domain.CustomerProfile
	ok, err := firstRow(body, &updated)
	if err != nil {
		return nil, fmt.Errorf("decode customer_profiles: %w", err)
	}
	if !ok {
		return nil, &appdomain.ErrNotFound{Resource: "customer_profile", ID: p.ID}
	}
	return &updated, nil
}

// CreateOrder inserts the order header; items are added with AddOrderItem.
func (s *CustomerStore) CreateOrder(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", o.TenantID))

	body, err := s.c.doPost(ctx, "orders", map[string]any{
		"tenant_id":           o.TenantID,
		"session_id":          o.SessionID,
		"customer_profile_id": o.ProfileID,
		"status":              o.Status,
	})
	if err != nil {
		return nil, err
	}
	var created domain.Order
	ok, err := firstRow(body, &created)
	if err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("create order: no row returned")
	}
	return &created, nil
}

// AddOrderItem inserts one line of an existing order.
func (s *CustomerStore) AddOrderItem(ctx context.Context, item *domain.OrderItem) (*domain.OrderItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.AddOrderItem")
	defer span.End()

	body, err := s.c.doPost(ctx, "order_items", map[string]any{
		"order_id":     item.OrderID,
		"product_name": item.ProductName,
		"properties":   item.Properties,
		"quantity":     item.Quantity,
		"unit_price":   item.UnitPrice,
		"total_price":  item.TotalPrice,
	})
	if err != nil {
		return nil, err
	}
	var created domain.OrderItem
	ok, err := firstRow(body, &created)
	if err != nil {
		return nil, fmt.Errorf("decode order_items: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("add order item: no row returned")
	}
	return &created, nil
}

// CountOrders counts the orders of a profile.
func (s *CustomerStore) CountOrders(ctx context.Context, profileID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountOrders")
	defer span.End()

	rows, err := getRows[struct {
		ID string `json:"id"`
	}](ctx, s.c, query("orders", eq("customer_profile_id", profileID), "select=id"))
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// OrdersByProfile returns the profile's orders newest first, items included.
func (s *CustomerStore) OrdersByProfile(ctx context.Context, profileID string) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.OrdersByProfile")
	defer span.End()
	return getRows[domain.Order](ctx, s.c, query("orders", eq("customer_profile_id", profileID), orderSelect, "order=created_at.desc"))
}

// OrderByID returns one order of the tenant with its items, or nil.
func (s *CustomerStore) OrderByID(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.OrderByID")
	defer span.End()

	rows, err := getRows[domain.Order](ctx, s.c, query("orders", eq("tenant_id", tenantID), eq("id", orderID), orderSelect, "limit=1"))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// OrdersBySession returns the session's orders newest first.
func (s *CustomerStore) OrdersBySession(ctx context.Context, tenantID, sessionID string) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.OrdersBySession")
	defer span.End()
	return getRows[domain.Order](ctx, s.c, query("orders", eq("tenant_id", tenantID), eq("session_id", sessionID), orderSelect, "order=created_at.desc"))
}

// OrdersByStatus returns the tenant's orders in status, newest first.
func (s *CustomerStore) OrdersByStatus(ctx context.Context, tenantID string, status domain.OrderStatus) ([]domain.Order, error) {
	ctx, span := tracer.Start(ctx, "Supabase.OrdersByStatus")
	defer span.End()
	return getRows[domain.Order](ctx, s.c, query("orders", eq("tenant_id", tenantID), eq("status", string(status)), orderSelect, "order=created_at.desc", "limit="+strconv.Itoa(maxOrderList)))
}

const maxOrderList = 500
