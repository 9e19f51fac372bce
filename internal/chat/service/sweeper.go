package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

// SweeperConfig controls how often handovers are checked and how long
// staff may stay silent before the bot takes the session back.
type SweeperConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Sweeper returns abandoned handovers to the bot.
type Sweeper struct {
	sessions port.SessionStore
	chatLog  port.ChatLogStore
	locker   port.SessionLocker
	replies  *Replies
	cfg      SweeperConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(sessions port.SessionStore, chatLog port.ChatLogStore, locker port.SessionLocker, replies *Replies, cfg SweeperConfig, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if replies == nil {
		replies = DefaultReplies()
	}
	return &Sweeper{
		sessions: sessions,
		chatLog:  chatLog,
		locker:   locker,
		replies:  replies,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run sweeps once per interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	w.logger.Info("handover sweeper started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("timeout", w.cfg.Timeout),
	)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("handover sweeper stopped")
			return
		case now := <-ticker.C:
			if _, err := w.SweepOnce(ctx, now); err != nil {
				w.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce reactivates every handed-over session whose handover started
// more than Timeout before now. It returns the number of sessions reset.
// A failure on one session is logged and does not stop the pass.
func (w *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Sweeper.SweepOnce")
	defer span.End()

	candidates, err := w.handedOver(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	reset := 0
	for _, sess := range candidates {
		ts := sess.Data.HandoverAt()
		if ts.IsZero() || now.Sub(ts) <= w.cfg.Timeout {
			continue
		}
		ok, err := w.reactivate(ctx, sess.TenantID, sess.SessionID, now)
		if err != nil {
			w.logger.Error("failed to reactivate session",
				zap.String("tenant_id", sess.TenantID),
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			reset++
		}
	}

	span.SetAttributes(
		attribute.Int("sweeper.candidates", len(candidates)),
		attribute.Int("sweeper.reset", reset),
	)
	w.logger.Info("handover sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("reactivated", reset),
	)
	return reset, nil
}

// handedOver lists sessions by status and, when none carry a handover
// status, falls back to scanning every session for a handover state.
func (w *Sweeper) handedOver(ctx context.Context) ([]domain.Session, error) {
	byStatus, err := w.sessions.ListByStatus(ctx, nil, []domain.SessionStatus{
		domain.StatusHumanCalling,
		domain.StatusHumanChatting,
	})
	if err != nil {
		return nil, err
	}
	if len(byStatus) > 0 {
		return byStatus, nil
	}

	all, err := w.sessions.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Session
	for _, s := range all {
		if s.Data.State.IsHandover() {
			out = append(out, s)
		}
	}
	return out, nil
}

// reactivate re-reads the session under its lock so a message handled in
// the meantime is not overwritten, then hands it back to the bot.
func (w *Sweeper) reactivate(ctx context.Context, tenantID, sessionID string, now time.Time) (bool, error) {
	unlock, err := w.locker.Lock(ctx, sessionKey(tenantID, sessionID))
	if err != nil {
		return false, err
	}
	defer unlock()

	sess, err := w.sessions.Get(ctx, tenantID, sessionID)
	if err != nil || sess == nil {
		return false, err
	}
	ts := sess.Data.HandoverAt()
	if ts.IsZero() || now.Sub(ts) <= w.cfg.Timeout {
		return false, nil
	}

	from := sess.Data.State
	sess.Data = resumeFromHandover(sess.Data)
	sess.Status = domain.StatusActive
	if _, err := w.sessions.Upsert(ctx, sess); err != nil {
		return false, err
	}
	if err := w.chatLog.Append(ctx, tenantID, sessionID, domain.RoleBot, w.replies.SweeperResumed); err != nil {
		w.logger.Warn("failed to log reactivation message",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	w.metrics.IncrSweeperReset()
	w.metrics.IncrTransition(string(from), string(domain.StateActive))
	w.logger.Info("session reactivated after handover timeout",
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sessionID),
		zap.Time("handover_at", ts),
	)
	return true, nil
}
