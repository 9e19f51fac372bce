package sqlite

import (
	"context"
	"fmt"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ControlStore implements port.ControlStore.
type ControlStore struct{ db *DB }

// Control returns the bot switch and store metadata view of the database.
func (db *DB) Control() *ControlStore { return &ControlStore{db: db} }

// GlobalBotActive reads the global kill switch.
func (c *ControlStore) GlobalBotActive(ctx context.Context) (bool, error) {
	var active bool
	err := c.db.sql.QueryRowContext(ctx, "SELECT active FROM bot_control WHERE id = 1").Scan(&active)
	if notFound(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read global bot switch: %w", err)
	}
	return active, nil
}

// SetGlobalBotActive flips the global kill switch.
func (c *ControlStore) SetGlobalBotActive(ctx context.Context, active bool) error {
	if _, err := c.db.sql.ExecContext(ctx, `
		INSERT INTO bot_control (id, active) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET active = excluded.active`, active); err != nil {
		return fmt.Errorf("set global bot switch: %w", err)
	}
	return nil
}

// TenantBotActive reads a tenant's switch. Tenants without a row are active.
func (c *ControlStore) TenantBotActive(ctx context.Context, tenantID string) (bool, error) {
	var active bool
	err := c.db.sql.QueryRowContext(ctx,
		"SELECT active FROM tenant_bot_control WHERE tenant_id = ?", tenantID).Scan(&active)
	if notFound(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read tenant bot switch: %w", err)
	}
	return active, nil
}

// SetTenantBotActive flips a tenant's switch.
func (c *ControlStore) SetTenantBotActive(ctx context.Context, tenantID string, active bool) error {
	if _, err := c.db.sql.ExecContext(ctx, `
		INSERT INTO tenant_bot_control (tenant_id, active) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET active = excluded.active`, tenantID, active); err != nil {
		return fmt.Errorf("set tenant bot switch: %w", err)
	}
	return nil
}

// StoreInfo returns the tenant's store metadata, or (nil, nil) when absent.
func (c *ControlStore) StoreInfo(ctx context.Context, tenantID string) (*domain.StoreInfo, error) {
	var s domain.StoreInfo
	err := c.db.sql.QueryRowContext(ctx, `
		SELECT store_name, store_address, store_phone, store_website, store_facebook, store_address_map, store_image
		FROM store_info WHERE tenant_id = ?`, tenantID).Scan(
		&s.StoreName, &s.StoreAddress, &s.StorePhone, &s.StoreWebsite, &s.StoreFacebook, &s.StoreAddressMap, &s.StoreImage)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store info: %w", err)
	}
	return &s, nil
}

// PutStoreInfo writes the tenant's store metadata. Used by seeding and tests;
// the chat core only reads it.
func (c *ControlStore) PutStoreInfo(ctx context.Context, tenantID string, s domain.StoreInfo) error {
	if _, err := c.db.sql.ExecContext(ctx, `
		INSERT INTO store_info (tenant_id, store_name, store_address, store_phone, store_website, store_facebook, store_address_map, store_image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			store_name = excluded.store_name,
			store_address = excluded.store_address,
			store_phone = excluded.store_phone,
			store_website = excluded.store_website,
			store_facebook = excluded.store_facebook,
			store_address_map = excluded.store_address_map,
			store_image = excluded.store_image`,
		tenantID, s.StoreName, s.StoreAddress, s.StorePhone, s.StoreWebsite, s.StoreFacebook, s.StoreAddressMap, s.StoreImage); err != nil {
		return fmt.Errorf("put store info: %w", err)
	}
	return nil
}
