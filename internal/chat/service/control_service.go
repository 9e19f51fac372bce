package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/cache"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

const globalControlKey = "global"

// ControlService owns the bot power switches and the staff operations on
// individual sessions. Switch reads go through a short-lived cache that is
// invalidated on every write.
type ControlService struct {
	store    port.ControlStore
	sessions port.SessionStore
	chatLog  port.ChatLogStore
	orders   port.CustomerStore
	locker   port.SessionLocker
	cache    *cache.InMemory[bool]
	replies  *Replies
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewControlService creates a ControlService. cacheTTL bounds how stale a
// switch read can be on other replicas.
func NewControlService(
	store port.ControlStore,
	sessions port.SessionStore,
	chatLog port.ChatLogStore,
	orders port.CustomerStore,
	locker port.SessionLocker,
	replies *Replies,
	cacheTTL time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ControlService {
	return &ControlService{
		store:    store,
		sessions: sessions,
		chatLog:  chatLog,
		orders:   orders,
		locker:   locker,
		cache:    cache.New[bool](cacheTTL),
		replies:  replies,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetClock replaces the time source.
func (c *ControlService) SetClock(now func() time.Time) { c.now = now }

// Close releases the cache janitor.
func (c *ControlService) Close() { c.cache.Close() }

// ============================================================
// Power switches
// ============================================================

// GlobalActive reports whether the bot is powered on for every tenant.
func (c *ControlService) GlobalActive(ctx context.Context) (bool, error) {
	return c.cachedSwitch(globalControlKey, func() (bool, error) {
		return c.store.GlobalBotActive(ctx)
	})
}

// SetGlobal powers the bot on or off for every tenant.
func (c *ControlService) SetGlobal(ctx context.Context, active bool) error {
	if err := c.store.SetGlobalBotActive(ctx, active); err != nil {
		return fmt.Errorf("set global bot power: %w", err)
	}
	c.cache.Delete(globalControlKey)
	c.logger.Info("global bot power changed", zap.Bool("bot_active", active))
	return nil
}

// TenantActive reports whether the bot is powered on for a tenant.
func (c *ControlService) TenantActive(ctx context.Context, tenantID string) (bool, error) {
	return c.cachedSwitch(tenantKey(tenantID), func() (bool, error) {
		return c.store.TenantBotActive(ctx, tenantID)
	})
}

// SetTenant powers the bot on or off for a tenant.
func (c *ControlService) SetTenant(ctx context.Context, tenantID string, active bool) error {
	if err := c.store.SetTenantBotActive(ctx, tenantID, active); err != nil {
		return fmt.Errorf("set tenant bot power: %w", err)
	}
	c.cache.Delete(tenantKey(tenantID))
	c.logger.Info("tenant bot power changed",
		zap.String("tenant_id", tenantID),
		zap.Bool("bot_active", active),
	)
	return nil
}

// Power applies a start/stop/status command, globally when tenantID is empty.
func (c *ControlService) Power(ctx context.Context, tenantID string, cmd domain.PowerCommand) (*domain.BotPower, error) {
	scope := "global"
	if tenantID != "" {
		scope = "tenant"
	}

	switch cmd {
	case domain.CommandStart, domain.CommandStop:
		active := cmd == domain.CommandStart
		var err error
		if tenantID == "" {
			err = c.SetGlobal(ctx, active)
		} else {
			err = c.SetTenant(ctx, tenantID, active)
		}
		if err != nil {
			return nil, err
		}
		return &domain.BotPower{Scope: scope, TenantID: tenantID, Active: active}, nil
	case domain.CommandStatus:
		var active bool
		var err error
		if tenantID == "" {
			active, err = c.GlobalActive(ctx)
		} else {
			active, err = c.TenantActive(ctx, tenantID)
		}
		if err != nil {
			return nil, err
		}
		return &domain.BotPower{Scope: scope, TenantID: tenantID, Active: active}, nil
	default:
		return nil, &appdomain.ErrValidation{Field: "command", Message: "must be start, stop or status"}
	}
}

// StoreInfo returns the tenant's store metadata, or nil.
func (c *ControlService) StoreInfo(ctx context.Context, tenantID string) (*domain.StoreInfo, error) {
	return c.store.StoreInfo(ctx, tenantID)
}

func (c *ControlService) cachedSwitch(key string, load func() (bool, error)) (bool, error) {
	v, hit, err := c.cache.GetOrLoad(key, load)
	if err != nil {
		return false, err
	}
	if hit {
		c.metrics.IncrCacheHit("bot_control")
	} else {
		c.metrics.IncrCacheMiss("bot_control")
	}
	return v, nil
}

func tenantKey(tenantID string) string { return "tenant:" + tenantID }

// ============================================================
// Staff operations on sessions
// ============================================================

// ControlSession starts or stops the bot for one session. Stopping also
// forgets the collected contact details; starting clears any handover and
// posts a notice in the chat log.
func (c *ControlService) ControlSession(ctx context.Context, tenantID, sessionID string, cmd domain.PowerCommand) (*domain.Session, error) {
	if cmd != domain.CommandStart && cmd != domain.CommandStop {
		return nil, &appdomain.ErrValidation{Field: "command", Message: "must be start or stop"}
	}

	unlock, err := c.locker.Lock(ctx, sessionKey(tenantID, sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := c.sessionOrDefault(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	from := sess.Data.State
	if cmd == domain.CommandStop {
		sess.Data = stopBot(sess.Data)
		sess.Status = domain.StatusStopped
	} else {
		sess.Data = resumeFromHandover(sess.Data)
		sess.Status = domain.StatusActive
	}

	saved, err := c.sessions.Upsert(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	c.metrics.IncrTransition(string(from), string(saved.Data.State))

	if cmd == domain.CommandStart {
		if err := c.chatLog.Append(ctx, tenantID, sessionID, domain.RoleBot, c.replies.StaffResumed); err != nil {
			c.logger.Warn("failed to log staff resume notice", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	c.logger.Info("session bot control changed",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.String("command", string(cmd)),
	)
	return saved, nil
}

// MarkHumanChatting records that a staff member took over the session.
// The handover clock starts now, so the sweeper returns the session to
// the bot if staff go quiet.
func (c *ControlService) MarkHumanChatting(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	unlock, err := c.locker.Lock(ctx, sessionKey(tenantID, sessionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := c.sessionOrDefault(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	from := sess.Data.State
	sess.Data = enterHumanChatting(sess.Data, c.now())
	sess.Status = domain.StatusHumanChatting

	saved, err := c.sessions.Upsert(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	c.metrics.IncrTransition(string(from), string(saved.Data.State))
	return saved, nil
}

// ListSessions returns every session of a tenant.
func (c *ControlService) ListSessions(ctx context.Context, tenantID string) ([]domain.Session, error) {
	return c.sessions.ListByTenant(ctx, tenantID)
}

// TenantSummary tallies the session statuses of a tenant.
func (c *ControlService) TenantSummary(ctx context.Context, tenantID string) (*domain.TenantBotSummary, error) {
	active, err := c.TenantActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sessions, err := c.sessions.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sum := &domain.TenantBotSummary{TenantID: tenantID, BotActive: active, TotalSessions: len(sessions)}
	for _, s := range sessions {
		switch s.Status {
		case domain.StatusStopped:
			sum.Stopped++
		case domain.StatusHumanCalling:
			sum.HumanCalling++
		case domain.StatusHumanChatting:
			sum.HumanChatting++
		default:
			sum.Active++
		}
	}
	return sum, nil
}

// History returns the whole conversation of a session as turns.
func (c *ControlService) History(ctx context.Context, tenantID, sessionID string) ([]domain.Turn, error) {
	msgs, err := c.chatLog.All(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return domain.PairHistory(msgs), nil
}

// DeleteHistory removes the chat log of a session and resets its data to
// defaults. The session record and its status are kept.
func (c *ControlService) DeleteHistory(ctx context.Context, tenantID, sessionID string) (int, error) {
	unlock, err := c.locker.Lock(ctx, sessionKey(tenantID, sessionID))
	if err != nil {
		return 0, err
	}
	defer unlock()

	n, err := c.chatLog.DeleteAll(ctx, tenantID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete chat log: %w", err)
	}

	sess, err := c.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("load session: %w", err)
	}
	if sess != nil {
		sess.Data = domain.DefaultSessionData()
		if _, err := c.sessions.Upsert(ctx, sess); err != nil {
			return 0, fmt.Errorf("reset session: %w", err)
		}
	}

	c.logger.Info("chat history deleted",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.Int("messages", n),
	)
	return n, nil
}

// ============================================================
// Orders (read-only)
// ============================================================

// Orders lists a tenant's orders for a session or with a status.
func (c *ControlService) Orders(ctx context.Context, tenantID, sessionID string, status domain.OrderStatus) ([]domain.Order, error) {
	switch {
	case sessionID != "":
		return c.orders.OrdersBySession(ctx, tenantID, sessionID)
	case status != "":
		if !status.Valid() {
			return nil, &appdomain.ErrValidation{Field: "status", Message: "unknown order status"}
		}
		return c.orders.OrdersByStatus(ctx, tenantID, status)
	default:
		return nil, &appdomain.ErrValidation{Field: "session_id", Message: "session_id or status is required"}
	}
}

// Order returns one order with its items.
func (c *ControlService) Order(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	o, err := c.orders.OrderByID(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, &appdomain.ErrNotFound{Resource: "order", ID: orderID}
	}
	return o, nil
}

func (c *ControlService) sessionOrDefault(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	sess, err := c.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		sess = &domain.Session{
			TenantID:  tenantID,
			SessionID: sessionID,
			Status:    domain.StatusActive,
			Data:      domain.DefaultSessionData(),
		}
	}
	return sess, nil
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + ":" + sessionID
}
