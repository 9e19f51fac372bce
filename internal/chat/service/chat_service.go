// Package service implements the conversational core of the shop bot.
//
// ============================================================
// ARCHITECTURE: state machine with strategy dispatch
// ============================================================
//
// ChatService.ProcessMessage is the entry point for one customer message:
//
//  1. global and per-tenant power switches (ControlService, cached)
//  2. input validation, before anything is read or written
//  3. per-session lock, held until the turn is persisted
//  4. load or lazily create the session
//  5. short-circuits: stopped, staff chatting, "/bot", waiting for staff
//  6. image intake: embedding search, then vision description
//  7. intent classification and "show more" detection
//  8. the first ChatStrategy whose CanHandle matches decides the turn
//  9. the Outcome is applied: chat log, session, formatted response
//
// Strategies never write. Each one receives a Turn (the event plus the
// current session snapshot) and returns an Outcome carrying the next
// snapshot. A strategy may also replace Turn.Data and return nil to let the
// next strategy continue with the updated snapshot (negativity counting,
// an unclear purchase confirmation).
//
// Collaborator failures turn into a polite apology with Persist=false so
// the customer can simply retry.
package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

var tracer = otel.Tracer("chat/service")

// botCommand is the escape hatch that returns a waiting session to the bot.
const botCommand = "/bot"

// ============================================================
// ChatStrategy: one branch of the state machine
// ============================================================

// ChatStrategy is one branch of the state machine.
//
// CanHandle: whether the branch applies to the turn
// Handle:    decides the Outcome, or returns nil to pass the turn on
type ChatStrategy interface {
	Name() string
	CanHandle(t *Turn) bool
	Handle(ctx context.Context, t *Turn) (*Outcome, error)
}

// Turn is one inbound message with the session snapshot it applies to.
type Turn struct {
	TenantID  string
	SessionID string
	Message   string
	LogText   string
	Creds     domain.Credentials
	Now       time.Time

	Status   domain.SessionStatus
	Data     domain.SessionData
	History  []domain.Turn
	Analysis domain.IntentAnalysis
	ShowMore domain.ShowMoreIntent
}

// ============================================================
// ChatService
// ============================================================

// Config tunes the chat flow.
type Config struct {
	PageSize             int
	NegativityThreshold  int
	HistoryContextLimit  int
	HistoryResponseLimit int
	ImageTopK            int
	ImageMinSimilarity   float32
	SearchConcurrency    int
	AITimeout            time.Duration
	SearchTimeout        time.Duration
	DefaultModel         string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:             5,
		NegativityThreshold:  3,
		HistoryContextLimit:  12,
		HistoryResponseLimit: 50,
		ImageTopK:            1,
		ImageMinSimilarity:   0.97,
		SearchConcurrency:    4,
		AITimeout:            30 * time.Second,
		SearchTimeout:        5 * time.Second,
	}
}

// Deps are the collaborators of ChatService.
type Deps struct {
	Sessions    port.SessionStore
	ChatLog     port.ChatLogStore
	Search      port.ProductSearcher
	ImageSearch port.ImageSearcher
	Embedder    port.Embedder
	Fetcher     port.ImageFetcher
	AI          port.AIClient
	Locker      port.SessionLocker

	Control *ControlService
	Matcher *Matcher
	Orders  *OrderBuilder
	Replies *Replies
}

// ChatService processes customer messages.
type ChatService struct {
	Deps
	cfg        Config
	strategies []ChatStrategy
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewChatService creates the ChatService and registers its strategies in
// precedence order. The last one, new query, handles everything.
func NewChatService(deps Deps, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *ChatService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if cfg.NegativityThreshold <= 0 {
		cfg.NegativityThreshold = 3
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = 1
	}
	if cfg.ImageTopK <= 0 {
		cfg.ImageTopK = 1
	}
	if deps.Replies == nil {
		deps.Replies = DefaultReplies()
	}

	s := &ChatService{Deps: deps, cfg: cfg, now: time.Now, metrics: metrics, logger: logger}
	s.strategies = []ChatStrategy{
		&confirmationStrategy{s},
		&customerInfoStrategy{s},
		&bankTransferStrategy{s},
		&negativityStrategy{s},
		&storeInfoStrategy{s},
		&warrantyStrategy{s},
		&humanAgentStrategy{s},
		&addToOrderStrategy{s},
		&purchaseStrategy{s},
		&showMoreStrategy{s},
		&newQueryStrategy{s},
	}
	return s
}

// SetClock replaces the time source.
func (s *ChatService) SetClock(now func() time.Time) { s.now = now }

// ProcessMessage handles one customer message end to end.
func (s *ChatService) ProcessMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "ChatService.ProcessMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("session.id", req.SessionID),
		attribute.Bool("request.has_image", req.HasImage()),
	)

	logger := s.logger.With(zap.String("tenant_id", req.TenantID), zap.String("session_id", req.SessionID))

	if paused := s.pausedReply(ctx, req.TenantID, logger); paused != nil {
		s.metrics.IncrMessage("paused")
		return paused, nil
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	unlock, err := s.Locker.Lock(ctx, sessionKey(req.TenantID, req.SessionID))
	if err != nil {
		span.RecordError(err)
		return nil, &appdomain.ErrConflict{Message: "session is busy: " + err.Error()}
	}
	defer unlock()

	sess, err := s.loadSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load session failed")
		logger.Error("failed to load session", zap.Error(err))
		s.metrics.IncrMessage("apology")
		return &domain.ChatResponse{Reply: s.Replies.Apology, History: []domain.Turn{}, Images: []domain.ImageInfo{}}, nil
	}

	t := &Turn{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		Message:   strings.TrimSpace(req.Message),
		LogText:   strings.TrimSpace(req.Message),
		Creds:     domain.Credentials{Model: req.Model, APIKey: req.APIKey},
		Now:       s.now(),
		Status:    sess.Status,
		Data:      sess.Data.Clone(),
	}
	if t.Creds.Model == "" {
		t.Creds.Model = s.cfg.DefaultModel
	}

	out := s.decide(ctx, t, req, logger)
	return s.apply(ctx, t, sess, out, logger), nil
}

// pausedReply returns a response when the bot is powered off globally or
// for the tenant. Switch read failures keep the bot running.
func (s *ChatService) pausedReply(ctx context.Context, tenantID string, logger *zap.Logger) *domain.ChatResponse {
	if s.Control == nil {
		return nil
	}
	active, err := s.Control.GlobalActive(ctx)
	if err != nil {
		logger.Warn("global bot switch unreadable, assuming on", zap.Error(err))
		active = true
	}
	if !active {
		return &domain.ChatResponse{Reply: s.Replies.BotPaused, History: []domain.Turn{}, Images: []domain.ImageInfo{}}
	}

	active, err = s.Control.TenantActive(ctx, tenantID)
	if err != nil {
		logger.Warn("tenant bot switch unreadable, assuming on", zap.Error(err))
		active = true
	}
	if !active {
		return &domain.ChatResponse{Reply: s.Replies.TenantPaused, History: []domain.Turn{}, Images: []domain.ImageInfo{}}
	}
	return nil
}

func validateRequest(req domain.ChatRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return &appdomain.ErrValidation{Field: "tenant_id", Message: "is required"}
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return &appdomain.ErrValidation{Field: "session_id", Message: "is required"}
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return &appdomain.ErrValidation{Field: "api_key", Message: "an API key must be provided"}
	}
	if strings.TrimSpace(req.Message) == "" && !req.HasImage() {
		return &appdomain.ErrValidation{Field: "message", Message: "a message or an image must be provided"}
	}
	return nil
}

// loadSession returns the stored session, creating it with defaults on
// first contact. A new session starts stopped when every existing session
// of the tenant is stopped.
func (s *ChatService) loadSession(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	sess, err := s.Sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = &domain.Session{
		TenantID:  tenantID,
		SessionID: sessionID,
		Status:    domain.StatusActive,
		Data:      domain.DefaultSessionData(),
	}
	others, err := s.Sessions.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if allStopped(others) {
		sess.Status = domain.StatusStopped
		sess.Data = stopBot(sess.Data)
	}
	return s.Sessions.Upsert(ctx, sess)
}

func allStopped(sessions []domain.Session) bool {
	if len(sessions) == 0 {
		return false
	}
	for _, s := range sessions {
		if s.Status != domain.StatusStopped {
			return false
		}
	}
	return true
}

// decide runs the short-circuits, intake and classification, then the
// strategies. It never writes.
func (s *ChatService) decide(ctx context.Context, t *Turn, req domain.ChatRequest, logger *zap.Logger) Outcome {
	r := s.Replies

	switch {
	case t.Status == domain.StatusStopped, t.Status == domain.StatusHumanChatting:
		return Outcome{Data: t.Data, LogUser: true}
	case strings.EqualFold(t.Message, botCommand) && (t.Data.State == domain.StateActive || t.Data.State == domain.StateHumanCalling):
		return reply(r.Reengage, resetToActive(t.Data))
	case t.Data.State == domain.StateHumanCalling:
		out := reply(r.AgentComing, t.Data)
		out.Persist = false
		return out
	}

	history, err := s.ChatLog.Recent(ctx, t.TenantID, t.SessionID, s.cfg.HistoryContextLimit)
	if err != nil {
		logger.Warn("chat history unavailable, continuing without it", zap.Error(err))
	}
	t.History = domain.PairHistory(history)

	if req.HasImage() {
		if out := s.intakeImage(ctx, t, req, logger); out != nil {
			return *out
		}
	}

	analysis, err := s.classifyIntent(ctx, t)
	if err != nil {
		logger.Warn("intent classification failed", zap.Error(err))
		return apology(r, t.Data)
	}
	t.Analysis = analysis
	t.ShowMore = s.classifyShowMore(ctx, t, logger)

	for _, st := range s.strategies {
		if !st.CanHandle(t) {
			continue
		}
		out, err := st.Handle(ctx, t)
		if err != nil {
			logger.Warn("strategy failed, replying with apology",
				zap.String("strategy", st.Name()),
				zap.Error(err),
			)
			return apology(r, t.Data)
		}
		if out != nil {
			logger.Debug("turn decided", zap.String("strategy", st.Name()))
			return *out
		}
	}
	// newQueryStrategy always handles; reaching here means it passed.
	return apology(r, t.Data)
}

func (s *ChatService) classifyIntent(ctx context.Context, t *Turn) (domain.IntentAnalysis, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	start := time.Now()
	a, err := s.AI.ClassifyIntent(ctx, port.IntentRequest{Message: t.Message, History: t.History, Creds: t.Creds})
	s.metrics.RecordExternalCall("ai", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("ai")
	}
	return a, err
}

// classifyShowMore falls back to OTHER on failure.
func (s *ChatService) classifyShowMore(ctx context.Context, t *Turn, logger *zap.Logger) domain.ShowMoreIntent {
	ctx, cancel := withTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	intent, err := s.AI.ClassifyShowMore(ctx, t.Message, HistoryText(t.History, 4), t.Creds)
	if err != nil {
		s.metrics.IncrExternalError("ai")
		logger.Warn("show-more classification failed, assuming other", zap.Error(err))
		return domain.ShowMoreOther
	}
	return intent
}

// apply writes the Outcome and builds the response.
func (s *ChatService) apply(ctx context.Context, t *Turn, sess *domain.Session, out Outcome, logger *zap.Logger) *domain.ChatResponse {
	if out.LogUser {
		if err := s.ChatLog.Append(ctx, t.TenantID, t.SessionID, domain.RoleUser, t.LogText); err != nil {
			logger.Error("failed to append user message", zap.Error(err))
		}
		if out.Reply != "" {
			if err := s.ChatLog.Append(ctx, t.TenantID, t.SessionID, domain.RoleBot, out.Reply); err != nil {
				logger.Error("failed to append bot reply", zap.Error(err))
			}
		}
	}

	switch {
	case out.Persist:
		next := *sess
		next.Data = out.Data
		next.Status = out.Status
		if next.Status == "" {
			next.Status = statusFor(out.Data.State)
		}
		if _, err := s.Sessions.Upsert(ctx, &next); err != nil {
			logger.Error("failed to persist session", zap.Error(err))
		}
		if sess.Data.State != out.Data.State {
			s.metrics.IncrTransition(string(sess.Data.State), string(out.Data.State))
		}
		s.metrics.IncrMessage("reply")
	case out.LogUser && out.Reply == "":
		s.metrics.IncrMessage("short_circuit")
	case out.LogUser:
		s.metrics.IncrMessage("reply")
	default:
		s.metrics.IncrMessage("apology")
	}

	resp := &domain.ChatResponse{
		Reply:                 out.Reply,
		History:               s.responseHistory(ctx, t, logger),
		HasPurchase:           out.HasPurchase,
		CustomerInfo:          out.CustomerInfo,
		HumanHandoverRequired: out.HandoverRequired,
		HasNegativity:         out.HasNegativity,
	}
	resp.Images = out.Images
	if resp.Images == nil {
		resp.Images = FormatImages(out.WantsImages, out.Products, out.ImageNames)
	}
	if resp.Images == nil {
		resp.Images = []domain.ImageInfo{}
	}
	resp.HasImages = len(resp.Images) > 0
	if out.Persist {
		resp.ActionData = ActionFor(t.Analysis.IsPurchaseIntent, out.Data.State, out.Products)
	}
	return resp
}

func (s *ChatService) responseHistory(ctx context.Context, t *Turn, logger *zap.Logger) []domain.Turn {
	msgs, err := s.ChatLog.Recent(ctx, t.TenantID, t.SessionID, s.cfg.HistoryResponseLimit)
	if err != nil {
		logger.Warn("failed to read history for response", zap.Error(err))
		return []domain.Turn{}
	}
	return domain.PairHistory(msgs)
}

// generate asks the model for a free-form answer about products. Image
// answers get the "here are the pictures" prefix.
func (s *ChatService) generate(ctx context.Context, t *Turn, products []domain.Product, needsSearch, imageSearch bool) (port.Reply, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	start := time.Now()
	rep, err := s.AI.GenerateReply(ctx, port.ReplyRequest{
		Query:         t.Message,
		Products:      products,
		History:       t.History,
		NeedsSearch:   needsSearch,
		WantsSpecs:    t.Analysis.WantsSpecs,
		WantsImages:   t.Analysis.WantsImages,
		IsImageSearch: imageSearch,
		Creds:         t.Creds,
	})
	s.metrics.RecordExternalCall("ai", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("ai")
		return port.Reply{}, err
	}
	rep.Text = strings.TrimSpace(rep.Text)
	if t.Analysis.WantsImages && rep.Text != "" && len(rep.ImageNames) > 0 {
		rep.Text = s.Replies.ImagesPrefix + rep.Text
	}
	return rep, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
