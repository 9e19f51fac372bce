// Package port defines the collaborator interfaces the chat core depends on.
//
// The services only see these interfaces; the concrete stores (Supabase,
// SQLite), search backends (Postgres, Qdrant), the language model client and
// the embedding client live in infra packages and are wired in cmd/shopbot.
// Tests provide hand-written fakes.
package port

import (
	"context"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Records
// ============================================================

// SessionStore persists sessions keyed by (tenant, session).
type SessionStore interface {
	// Get returns the session or (nil, nil) when absent.
	Get(ctx context.Context, tenantID, sessionID string) (*domain.Session, error)
	Upsert(ctx context.Context, s *domain.Session) (*domain.Session, error)
	// ListByStatus lists sessions in any of statuses; a nil tenant lists every tenant.
	ListByStatus(ctx context.Context, tenantID *string, statuses []domain.SessionStatus) ([]domain.Session, error)
	ListAll(ctx context.Context) ([]domain.Session, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Session, error)
}

// ChatLogStore is the append-only chat log. Reads return messages oldest first.
type ChatLogStore interface {
	Append(ctx context.Context, tenantID, threadID string, role domain.Role, text string) error
	// Recent returns the latest limit messages, still oldest first.
	Recent(ctx context.Context, tenantID, threadID string, limit int) ([]domain.ChatMessage, error)
	All(ctx context.Context, tenantID, threadID string) ([]domain.ChatMessage, error)
	DeleteAll(ctx context.Context, tenantID, threadID string) (int, error)
}

// CustomerStore persists customer profiles and their orders.
type CustomerStore interface {
	ProfileBySession(ctx context.Context, tenantID, sessionID string) (*domain.CustomerProfile, error)
	ProfileByPhone(ctx context.Context, tenantID, phone string) (*domain.CustomerProfile, error)
	CreateProfile(ctx context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error)
	UpdateProfile(ctx context.Context, p *domain.CustomerProfile) (*domain.CustomerProfile, error)

	CreateOrder(ctx context.Context, o *domain.Order) (*domain.Order, error)
	AddOrderItem(ctx context.Context, item *domain.OrderItem) (*domain.OrderItem, error)
	CountOrders(ctx context.Context, profileID string) (int, error)
	// OrdersByProfile returns orders newest first, items included.
	OrdersByProfile(ctx context.Context, profileID string) ([]domain.Order, error)
	OrderByID(ctx context.Context, tenantID, orderID string) (*domain.Order, error)
	OrdersBySession(ctx context.Context, tenantID, sessionID string) ([]domain.Order, error)
	OrdersByStatus(ctx context.Context, tenantID string, status domain.OrderStatus) ([]domain.Order, error)
}

// ControlStore holds the bot power switches and read-only store metadata.
type ControlStore interface {
	GlobalBotActive(ctx context.Context) (bool, error)
	SetGlobalBotActive(ctx context.Context, active bool) error
	TenantBotActive(ctx context.Context, tenantID string) (bool, error)
	SetTenantBotActive(ctx context.Context, tenantID string, active bool) error
	// StoreInfo returns (nil, nil) when the tenant has no store metadata.
	StoreInfo(ctx context.Context, tenantID string) (*domain.StoreInfo, error)
}

// ============================================================
// Search
// ============================================================

// TextQuery is a product text search. Empty name, category and properties
// together yield no results.
type TextQuery struct {
	TenantID         string
	ProductName      string
	Category         string
	Properties       string
	Offset           int
	PageSize         int
	StrictCategory   bool
	StrictProperties bool
}

// ProductSearcher searches the catalog by text.
type ProductSearcher interface {
	SearchByText(ctx context.Context, q TextQuery) ([]domain.Product, error)
}

// ImageSearcher searches the catalog by image embedding similarity.
type ImageSearcher interface {
	SearchByImageEmbedding(ctx context.Context, tenantID string, vector []float32, topK int, minSimilarity float32) ([]domain.Product, error)
}

// ImageInput is an image given either by URL or by raw bytes.
type ImageInput struct {
	URL      string
	Data     []byte
	MIMEType string
}

// Embedder turns an image into a vector.
type Embedder interface {
	Embed(ctx context.Context, img ImageInput) ([]float32, error)
}

// ImageFetcher downloads an image.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

// ============================================================
// Language model
// ============================================================

// IntentRequest is the input of intent classification.
type IntentRequest struct {
	Message string
	History []domain.Turn
	Creds   domain.Credentials
}

// ReplyRequest is the input of free-form reply generation.
type ReplyRequest struct {
	Query         string
	Products      []domain.Product
	History       []domain.Turn
	NeedsSearch   bool
	WantsSpecs    bool
	WantsImages   bool
	IsImageSearch bool
	Creds         domain.Credentials
}

// Reply is a generated answer; ImageNames lists products ("name (properties)")
// whose pictures the answer refers to.
type Reply struct {
	Text       string
	ImageNames []string
}

// AIClient is the language-model backed collaborator. Every call returns an
// error on failure; each call site decides the fallback.
type AIClient interface {
	ClassifyIntent(ctx context.Context, req IntentRequest) (domain.IntentAnalysis, error)
	ExtractCustomerInfo(ctx context.Context, text string, creds domain.Credentials) (domain.CustomerInfo, error)
	EvaluateProductMatch(ctx context.Context, query, history string, products []domain.Product, creds domain.Credentials) (domain.MatchResult, error)
	FilterProductsByRelevance(ctx context.Context, query, history string, products []domain.Product, creds domain.Credentials) ([]domain.Product, error)
	EvaluateConfirmation(ctx context.Context, message, history string, creds domain.Credentials) (domain.ConfirmationDecision, error)
	DescribeImage(ctx context.Context, img ImageInput, creds domain.Credentials) (string, error)
	ClassifyShowMore(ctx context.Context, message, history string, creds domain.Credentials) (domain.ShowMoreIntent, error)
	GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error)
}

// ============================================================
// Concurrency
// ============================================================

// SessionLocker serializes work on one session across requests and the
// sweeper. Lock blocks until acquired or ctx ends.
type SessionLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
