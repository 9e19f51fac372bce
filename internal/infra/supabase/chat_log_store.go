package supabase

import (
	"context"
	"strconv"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Chat log store: implements port.ChatLogStore
// ============================================================

// ChatLog reads and appends the chat_messages table.
type ChatLog struct{ c *Client }

// ChatLog returns the chat log view of the client.
func (c *Client) ChatLog() *ChatLog { return &ChatLog{c: c} }

// Append adds one message; id and created_at are filled by the database.
func (l *ChatLog) Append(ctx context.Context, tenantID, threadID string, role domain.Role, text string) error {
	ctx, span := tracer.Start(ctx, "Supabase.AppendMessage")
	defer span.End()

	_, err := l.c.doPost(ctx, "chat_messages", map[string]any{
		"tenant_id": tenantID,
		"thread_id": threadID,
		"role":      role,
		"message":   text,
	})
	return err
}

// Recent returns the latest limit messages, oldest first.
func (l *ChatLog) Recent(ctx context.Context, tenantID, threadID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "Supabase.RecentMessages")
	defer span.End()

	msgs, err := getRows[domain.ChatMessage](ctx, l.c, query("chat_messages",
		eq("tenant_id", tenantID), eq("thread_id", threadID),
		"order=created_at.desc,id.desc", "limit="+strconv.Itoa(limit)))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// All returns the whole thread, oldest first.
func (l *ChatLog) All(ctx context.Context, tenantID, threadID string) ([]domain.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "Supabase.AllMessages")
	defer span.End()

	return getRows[domain.ChatMessage](ctx, l.c, query("chat_messages",
		eq("tenant_id", tenantID), eq("thread_id", threadID), "order=created_at.asc,id.asc"))
}

// DeleteAll removes the thread and returns how many messages were deleted.
func (l *ChatLog) DeleteAll(ctx context.Context, tenantID, threadID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteMessages")
	defer span.End()

	return l.c.doDelete(ctx, query("chat_messages", eq("tenant_id", tenantID), eq("thread_id", threadID), "select=id"))
}
