package infra

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/observability"
	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
)

// ============================================================
// GeminiClient: implements port.AIClient
// ============================================================
//
// Tenants bring their own API key with every request, so one genai client
// is kept per key. Calls share a bulkhead and a circuit breaker.

// GeminiClient is the language-model collaborator.
type GeminiClient struct {
	mu      sync.Mutex
	clients map[string]*genai.Client

	defaultModel string
	bulkhead     *resilience.Bulkhead
	cb           *gobreaker.CircuitBreaker
	cfg          resilience.Config
	metrics      *observability.Metrics
	logger       *zap.Logger

	// generate is swapped in tests.
	generate func(ctx context.Context, creds domain.Credentials, jsonMode bool, parts ...genai.Part) (string, error)
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(defaultModel string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *GeminiClient {
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash"
	}
	g := &GeminiClient{
		clients:      make(map[string]*genai.Client),
		defaultModel: defaultModel,
		bulkhead:     resilience.NewBulkhead(cfg.MaxConcurrency),
		cb:           cb,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
	}
	g.generate = g.callModel
	return g
}

// Close releases every cached client.
func (g *GeminiClient) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for key, c := range g.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.clients, key)
	}
	return firstErr
}

func (g *GeminiClient) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, &appdomain.ErrValidation{Field: "api_key", Message: "required"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// callModel runs one generation through the bulkhead, breaker and retries.
func (g *GeminiClient) callModel(ctx context.Context, creds domain.Credentials, jsonMode bool, parts ...genai.Part) (string, error) {
	c, err := g.client(ctx, creds.APIKey)
	if err != nil {
		return "", err
	}
	modelName := creds.Model
	if modelName == "" {
		modelName = g.defaultModel
	}
	model := c.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPersona)}}
	if jsonMode {
		model.ResponseMIMEType = "application/json"
		model.SetTemperature(0.1)
	} else {
		model.SetTemperature(0.7)
	}

	if err := g.bulkhead.Acquire(ctx); err != nil {
		return "", &appdomain.ErrTimeout{Operation: "gemini"}
	}
	defer g.bulkhead.Release()

	start := time.Now()
	text, err := resilience.Call(ctx, g.cb, g.cfg, "gemini", func(ctx context.Context) (string, error) {
		resp, err := model.GenerateContent(ctx, parts...)
		if err != nil {
			return "", err
		}
		if resp.UsageMetadata != nil {
			g.metrics.RecordTokens(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
		}
		return responseText(resp), nil
	})
	g.metrics.RecordExternalCall("gemini", time.Since(start))
	if err != nil {
		g.metrics.IncrExternalError("gemini")
		return "", err
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// ask runs a classifier prompt in JSON mode.
func (g *GeminiClient) ask(ctx context.Context, op string, creds domain.Credentials, prompt string) (string, error) {
	return g.prompt(ctx, op, creds, true, prompt)
}

func (g *GeminiClient) prompt(ctx context.Context, op string, creds domain.Credentials, jsonMode bool, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "Gemini."+op)
	defer span.End()
	span.SetAttributes(attribute.String("ai.model", creds.Model), attribute.Bool("ai.json_mode", jsonMode))

	raw, err := g.generate(ctx, creds, jsonMode, genai.Text(prompt))
	if err != nil {
		g.logger.Warn("gemini call failed", zap.String("operation", op), zap.Error(err))
		return "", err
	}
	return raw, nil
}

// ClassifyIntent classifies the message into the intent flags.
func (g *GeminiClient) ClassifyIntent(ctx context.Context, req port.IntentRequest) (domain.IntentAnalysis, error) {
	raw, err := g.ask(ctx, "ClassifyIntent", req.Creds, intentPrompt(req.Message, req.History))
	if err != nil {
		return domain.IntentAnalysis{}, err
	}
	return decodeIntent(raw)
}

// ExtractCustomerInfo pulls name, phone and address out of free text.
func (g *GeminiClient) ExtractCustomerInfo(ctx context.Context, text string, creds domain.Credentials) (domain.CustomerInfo, error) {
	raw, err := g.ask(ctx, "ExtractCustomerInfo", creds, extractInfoPrompt(text))
	if err != nil {
		return domain.CustomerInfo{}, err
	}
	return decodeCustomerInfo(raw)
}

// EvaluateProductMatch picks the best candidate for the request.
func (g *GeminiClient) EvaluateProductMatch(ctx context.Context, query, history string, products []domain.Product, creds domain.Credentials) (domain.MatchResult, error) {
	if len(products) == 0 {
		return domain.MatchResult{Type: domain.NoMatch}, nil
	}
	raw, err := g.ask(ctx, "EvaluateProductMatch", creds, matchPrompt(query, history, products))
	if err != nil {
		return domain.MatchResult{}, err
	}
	return decodeMatch(raw, products)
}

// FilterProductsByRelevance keeps the products relevant to the query.
func (g *GeminiClient) FilterProductsByRelevance(ctx context.Context, query, history string, products []domain.Product, creds domain.Credentials) ([]domain.Product, error) {
	if len(products) == 0 {
		return products, nil
	}
	raw, err := g.ask(ctx, "FilterProductsByRelevance", creds, filterPrompt(query, history, products))
	if err != nil {
		return nil, err
	}
	return decodeRelevant(raw, products)
}

// EvaluateConfirmation reads the answer to "shall I place the order".
func (g *GeminiClient) EvaluateConfirmation(ctx context.Context, message, history string, creds domain.Credentials) (domain.ConfirmationDecision, error) {
	raw, err := g.ask(ctx, "EvaluateConfirmation", creds, confirmationPrompt(message, history))
	if err != nil {
		return domain.DecisionUnclear, err
	}
	return decodeDecision(raw)
}

// ClassifyShowMore separates pagination requests from stock questions.
func (g *GeminiClient) ClassifyShowMore(ctx context.Context, message, history string, creds domain.Credentials) (domain.ShowMoreIntent, error) {
	raw, err := g.ask(ctx, "ClassifyShowMore", creds, showMorePrompt(message, history))
	if err != nil {
		return domain.ShowMoreOther, err
	}
	return decodeShowMore(raw)
}

// DescribeImage returns a short Vietnamese description of the image.
func (g *GeminiClient) DescribeImage(ctx context.Context, img port.ImageInput, creds domain.Credentials) (string, error) {
	ctx, span := tracer.Start(ctx, "Gemini.DescribeImage")
	defer span.End()

	if len(img.Data) == 0 {
		return "", &appdomain.ErrValidation{Field: "image", Message: "no image data"}
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	raw, err := g.generate(ctx, creds, false, genai.Text(describeImagePrompt), genai.Blob{MIMEType: mime, Data: img.Data})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// GenerateReply writes the customer-facing answer.
func (g *GeminiClient) GenerateReply(ctx context.Context, req port.ReplyRequest) (port.Reply, error) {
	raw, err := g.prompt(ctx, "GenerateReply", req.Creds, false, replyPrompt(replyInput{
		Query:         req.Query,
		Products:      req.Products,
		History:       req.History,
		NeedsSearch:   req.NeedsSearch,
		WantsSpecs:    req.WantsSpecs,
		IsImageSearch: req.IsImageSearch,
	}))
	if err != nil {
		return port.Reply{}, err
	}
	reply := decodeReply(raw)
	if reply.Text == "" {
		return port.Reply{}, &appdomain.ErrExternalService{Service: "gemini", Err: fmt.Errorf("empty reply")}
	}
	if !req.WantsImages && !req.IsImageSearch {
		reply.ImageNames = nil
	}
	return reply, nil
}

var _ port.AIClient = (*GeminiClient)(nil)
