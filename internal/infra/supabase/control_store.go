package supabase

import (
	"context"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Control store: bot switches and store metadata,
// implements port.ControlStore
// ============================================================

// ControlStore reads and writes bot_control, tenant_bot_control and store_info.
type ControlStore struct{ c *Client }

// Control returns the bot switch view of the client.
func (c *Client) Control() *ControlStore { return &ControlStore{c: c} }

type switchRow struct {
	Active bool `json:"active"`
}

// GlobalBotActive reads the global kill switch. A missing row means active.
func (s *ControlStore) GlobalBotActive(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GlobalBotActive")
	defer span.End()

	rows, err := getRows[switchRow](ctx, s.c, query("bot_control", "id=eq.1", "select=active", "limit=1"))
	if err != nil {
		return false, err
	}
	return len(rows) == 0 || rows[0].Active, nil
}

// SetGlobalBotActive flips the global kill switch.
func (s *ControlStore) SetGlobalBotActive(ctx context.Context, active bool) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetGlobalBotActive")
	defer span.End()

	_, err := s.c.doUpsert(ctx, "bot_control?on_conflict=id", map[string]any{"id": 1, "active": active})
	return err
}

// TenantBotActive reads a tenant's switch. Tenants without a row are active.
func (s *ControlStore) TenantBotActive(ctx context.Context, tenantID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.TenantBotActive")
	defer span.End()

	rows, err := getRows[switchRow](ctx, s.c, query("tenant_bot_control", eq("tenant_id", tenantID), "select=active", "limit=1"))
	if err != nil {
		return false, err
	}
	return len(rows) == 0 || rows[0].Active, nil
}

// SetTenantBotActive flips a tenant's switch.
func (s *ControlStore) SetTenantBotActive(ctx context.Context, tenantID string, active bool) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetTenantBotActive")
	defer span.End()

	_, err := s.c.doUpsert(ctx, "tenant_bot_control?on_conflict=tenant_id", map[string]any{"tenant_id": tenantID, "active": active})
	return err
}

// StoreInfo returns the tenant's store metadata, or (nil, nil) when absent.
func (s *ControlStore) StoreInfo(ctx context.Context, tenantID string) (*domain.StoreInfo, error) {
	ctx, span := tracer.Start(ctx, "Supabase.StoreInfo")
	defer span.End()

	rows, err := getRows[domain.StoreInfo](ctx, s.c, query("store_info", eq("tenant_id", tenantID), "limit=1"))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}
