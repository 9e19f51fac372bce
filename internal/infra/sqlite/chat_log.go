package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ChatLog implements port.ChatLogStore.
type ChatLog struct{ db *DB }

// ChatLog returns the chat log view of the database.
func (db *DB) ChatLog() *ChatLog { return &ChatLog{db: db} }

const messageColumns = "id, tenant_id, thread_id, role, message, created_at"

// Append adds one message to the thread.
func (c *ChatLog) Append(ctx context.Context, tenantID, threadID string, role domain.Role, text string) error {
	if _, err := c.db.sql.ExecContext(ctx,
		"INSERT INTO chat_messages (id, tenant_id, thread_id, role, message, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		uuid.NewString(), tenantID, threadID, string(role), text, c.db.timestamp()); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

// Recent returns the latest limit messages, oldest first.
func (c *ChatLog) Recent(ctx context.Context, tenantID, threadID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := c.query(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE tenant_id = ? AND thread_id = ? ORDER BY seq DESC LIMIT ?",
		tenantID, threadID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// All returns the whole thread, oldest first.
func (c *ChatLog) All(ctx context.Context, tenantID, threadID string) ([]domain.ChatMessage, error) {
	return c.query(ctx,
		"SELECT "+messageColumns+" FROM chat_messages WHERE tenant_id = ? AND thread_id = ? ORDER BY seq",
		tenantID, threadID)
}

// DeleteAll removes the thread and returns how many messages were deleted.
func (c *ChatLog) DeleteAll(ctx context.Context, tenantID, threadID string) (int, error) {
	res, err := c.db.sql.ExecContext(ctx,
		"DELETE FROM chat_messages WHERE tenant_id = ? AND thread_id = ?", tenantID, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	return int(n), nil
}

func (c *ChatLog) query(ctx context.Context, q string, args ...any) ([]domain.ChatMessage, error) {
	rows, err := c.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var (
			m             domain.ChatMessage
			role, created string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ThreadID, &role, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
