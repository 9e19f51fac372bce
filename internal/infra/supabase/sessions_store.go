package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Sessions store: implements port.SessionStore
// ============================================================

// SessionStore reads and writes the sessions table.
type SessionStore struct{ c *Client }

// Sessions returns the session view of the client.
func (c *Client) Sessions() *SessionStore { return &SessionStore{c: c} }

type sessionRow struct {
	TenantID    string          `json:"tenant_id"`
	SessionID   string          `json:"session_id"`
	Status      string          `json:"status"`
	SessionData json.RawMessage `json:"session_data"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (r sessionRow) toDomain() (domain.Session, error) {
	s := domain.Session{
		TenantID:  r.TenantID,
		SessionID: r.SessionID,
		Status:    domain.SessionStatus(r.Status),
		Data:      domain.DefaultSessionData(),
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.SessionData) > 0 && string(r.SessionData) != "null" {
		if err := json.Unmarshal(r.SessionData, &s.Data); err != nil {
			return s, fmt.Errorf("decode session_data %s/%s: %w", r.TenantID, r.SessionID, err)
		}
	}
	return s, nil
}

// Get returns the session or (nil, nil) when absent.
func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSession")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	rows, err := getRows[sessionRow](ctx, s.c, query("sessions", eq("tenant_id", tenantID), eq("session_id", sessionID), "limit=1"))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	sess, err := rows[0].toDomain()
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Upsert writes the whole session keyed by (tenant_id, session_id).
func (s *SessionStore) Upsert(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertSession")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", sess.TenantID))

	status := sess.Status
	if status == "" {
		status = domain.StatusActive
	}
	row := map[string]any{
		"tenant_id":    sess.TenantID,
		"session_id":   sess.SessionID,
		"status":       status,
		"session_data": sess.Data,
		"updated_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, err := s.c.doUpsert(ctx, "sessions?on_conflict=tenant_id,session_id", row)
	if err != nil {
		return nil, err
	}

	var saved sessionRow
	ok, err := firstRow(body, &saved)
	if err != nil {
		return nil, fmt.Errorf("decode upserted session: %w", err)
	}
	if !ok {
		out := *sess
		out.Status = status
		return &out, nil
	}
	out, err := saved.toDomain()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByStatus lists sessions in any of statuses; a nil tenant lists every tenant.
func (s *SessionStore) ListByStatus(ctx context.Context, tenantID *string, statuses []domain.SessionStatus) ([]domain.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}
	parts := []string{in("status", values)}
	if tenantID != nil {
		parts = append(parts, eq("tenant_id", *tenantID))
	}
	return s.list(ctx, query("sessions", append(parts, "order=tenant_id,session_id")...))
}

// ListAll lists every session of every tenant.
func (s *SessionStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	return s.list(ctx, query("sessions", "order=tenant_id,session_id"))
}

// ListByTenant lists the sessions of one tenant.
func (s *SessionStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.Session, error) {
	return s.list(ctx, query("sessions", eq("tenant_id", tenantID), "order=session_id"))
}

func (s *SessionStore) list(ctx context.Context, path string) ([]domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSessions")
	defer span.End()

	rows, err := getRows[sessionRow](ctx, s.c, path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, 0, len(rows))
	for _, r := range rows {
		sess, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
