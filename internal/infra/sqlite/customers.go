package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// CustomerStore implements port.CustomerStore.
type CustomerStore struct{ db *DB }

// Customers returns the profile and order view of the database.
func (db *DB) Customers() *CustomerStore { return &CustomerStore{db: db} }

const (
	profileColumns = "id, tenant_id, session_id, name, phone, address, email, notes, created_at, updated_at"
	orderColumns   = "id, tenant_id, session_id, customer_profile_id, status, created_at"
	itemColumns    = "id, order_id, product_name, properties, quantity, unit_price, total_price"
)

// ProfileBySession returns the newest profile bound to the session, or nil.
func (c *CustomerStore) ProfileBySession(ctx context.Context, tenantID, sessionID string) (*domain.CustomerProfile, error) {
	return c.profile(ctx,
		"SELECT "+profileColumns+" FROM customer_profiles WHERE tenant_id = ? AND session_id = ? ORDER BY updated_at DESC LIMIT 1",
		tenantID, sessionID)
}

// ProfileByPhone returns the newest profile with the phone, or nil.
func (c *CustomerStore) ProfileByPhone(ctx context.Context, tenantID, phone string) (*domain.CustomerProfile, error) {
	return c.profile(ctx,
		"SELECT "+profileColumns+" FROM customer_profiles WHERE tenant_id = ? AND phone = ? ORDER BY updated_at DESC LIMIT 1",
		tenantID, phone)
}

// CreateProfile inserts a profile with a fresh ID.
func (c *CustomerStore) CreateProfile(ctx context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	out := *p
	out.ID = uuid.NewString()
	now := c.db.now().UTC()
	out.CreatedAt, out.UpdatedAt = now, now

	if _, err := c.db.sql.ExecContext(ctx,
		"INSERT INTO customer_profiles ("+profileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		out.ID, out.TenantID, out.SessionID, out.Name, out.Phone, out.Address, out.Email, out.Notes,
		formatTime(now), formatTime(now)); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return &out, nil
}

// UpdateProfile overwrites the profile's fields and session binding.
func (c *CustomerStore) UpdateProfile(ctx context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error) {
	out := *p
	out.UpdatedAt = c.db.now().UTC()

	res, err := c.db.sql.ExecContext(ctx, `
		UPDATE customer_profiles
		SET session_id = ?, name = ?, phone = ?, address = ?, email = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		out.SessionID, out.Name, out.Phone, out.Address, out.Email, out.Notes, formatTime(out.UpdatedAt), out.ID)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update profile %s: no such profile", p.ID)
	}
	return &out, nil
}

// CreateOrder inserts the order header; items are added with AddOrderItem.
func (c *CustomerStore) CreateOrder(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	out := *o
	out.ID = uuid.NewString()
	out.Items = nil
	if out.CreatedAt.IsZero() {
		out.CreatedAt = c.db.now().UTC()
	}

	if _, err := c.db.sql.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		out.ID, out.TenantID, out.SessionID, out.ProfileID, string(out.Status), formatTime(out.CreatedAt)); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &out, nil
}

// AddOrderItem inserts one line of an existing order.
func (c *CustomerStore) AddOrderItem(ctx context.Context, item *domain.OrderItem) (*domain.OrderItem, error) {
	out := *item
	out.ID = uuid.NewString()

	if _, err := c.db.sql.ExecContext(ctx,
		"INSERT INTO order_items ("+itemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		out.ID, out.OrderID, out.ProductName, out.Properties, out.Quantity, out.UnitPrice, out.TotalPrice); err != nil {
		return nil, fmt.Errorf("add order item: %w", err)
	}
	return &out, nil
}

// CountOrders counts the orders of a profile.
func (c *CustomerStore) CountOrders(ctx context.Context, profileID string) (int, error) {
	var n int
	if err := c.db.sql.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE customer_profile_id = ?", profileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// OrdersByProfile returns the profile's orders newest first, items included.
func (c *CustomerStore) OrdersByProfile(ctx context.Context, profileID string) ([]domain.Order, error) {
	return c.orders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_profile_id = ? ORDER BY seq DESC", profileID)
}

// OrderByID returns one order of the tenant with its items, or nil.
func (c *CustomerStore) OrderByID(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	orders, err := c.orders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE tenant_id = ? AND id = ?", tenantID, orderID)
	if err != nil || len(orders) == 0 {
		return nil, err
	}
	return &orders[0], nil
}

// OrdersBySession returns the session's orders newest first.
func (c *CustomerStore) OrdersBySession(ctx context.Context, tenantID, sessionID string) ([]domain.Order, error) {
	return c.orders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE tenant_id = ? AND session_id = ? ORDER BY seq DESC",
		tenantID, sessionID)
}

// OrdersByStatus returns the tenant's orders in status, newest first.
func (c *CustomerStore) OrdersByStatus(ctx context.Context, tenantID string, status domain.OrderStatus) ([]domain.Order, error) {
	return c.orders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE tenant_id = ? AND status = ? ORDER BY seq DESC",
		tenantID, string(status))
}

func (c *CustomerStore) profile(ctx context.Context, q string, args ...any) (*domain.CustomerProfile, error) {
	var (
		p                domain.CustomerProfile
		created, updated string
	)
	err := c.db.sql.QueryRowContext(ctx, q, args...).Scan(
		&p.ID, &p.TenantID, &p.SessionID, &p.Name, &p.Phone, &p.Address, &p.Email, &p.Notes, &created, &updated)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func (c *CustomerStore) orders(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := c.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var out []domain.Order
	for rows.Next() {
		var (
			o               domain.Order
			status, created string
		)
		if err := rows.Scan(&o.ID, &o.TenantID, &o.SessionID, &o.ProfileID, &status, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		o.CreatedAt = parseTime(created)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query orders: %w", err)
	}
	// Release the connection before loading items; ":memory:" has only one.
	rows.Close()

	for i := range out {
		items, err := c.items(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (c *CustomerStore) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := c.db.sql.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = ? ORDER BY seq", orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductName, &it.Properties, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

