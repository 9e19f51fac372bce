package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// SessionStore implements port.SessionStore.
type SessionStore struct{ db *DB }

// Sessions returns the session view of the database.
func (db *DB) Sessions() *SessionStore { return &SessionStore{db: db} }

const sessionColumns = "tenant_id, session_id, status, session_data, updated_at"

// Get returns the session or (nil, nil) when absent.
func (s *SessionStore) Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	row := s.db.sql.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE tenant_id = ? AND session_id = ?",
		tenantID, sessionID)
	sess, err := scanSession(row)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s/%s: %w", tenantID, sessionID, err)
	}
	return sess, nil
}

// Upsert writes the whole session and stamps updated_at.
func (s *SessionStore) Upsert(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	status := sess.Status
	if status == "" {
		status = domain.StatusActive
	}
	now := s.db.now().UTC()

	if _, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO sessions (tenant_id, session_id, status, session_data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			status = excluded.status,
			session_data = excluded.session_data,
			updated_at = excluded.updated_at`,
		sess.TenantID, sess.SessionID, string(status), string(data), formatTime(now)); err != nil {
		return nil, fmt.Errorf("upsert session %s/%s: %w", sess.TenantID, sess.SessionID, err)
	}

	out := *sess
	out.Status = status
	out.Data = sess.Data.Clone()
	out.UpdatedAt = now
	return &out, nil
}

// ListByStatus lists sessions in any of statuses; a nil tenant lists every tenant.
func (s *SessionStore) ListByStatus(ctx context.Context, tenantID *string, statuses []domain.SessionStatus) ([]domain.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	q := "SELECT " + sessionColumns + " FROM sessions WHERE status IN (" + placeholders(len(statuses)) + ")"
	if tenantID != nil {
		q += " AND tenant_id = ?"
		args = append(args, *tenantID)
	}
	return s.list(ctx, q+" ORDER BY tenant_id, session_id", args...)
}

// ListAll lists every session of every tenant.
func (s *SessionStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	return s.list(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY tenant_id, session_id")
}

// ListByTenant lists the sessions of one tenant.
func (s *SessionStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.Session, error) {
	return s.list(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE tenant_id = ? ORDER BY session_id", tenantID)
}

func (s *SessionStore) list(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess            domain.Session
		status, updated string
		data            sql.NullString
	)
	if err := row.Scan(&sess.TenantID, &sess.SessionID, &status, &data, &updated); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.UpdatedAt = parseTime(updated)
	sess.Data = domain.DefaultSessionData()
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &sess.Data); err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
	}
	return &sess, nil
}
