// Package handler exposes the chatbot over HTTP: the customer chat endpoint
// and the staff endpoints for bot power, session control, history and orders.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	appdomain "github.com/boddenberg/shopbot-core/internal/domain"
)

var tracer = otel.Tracer("chat/handler")

// MessageProcessor runs one customer message through the bot.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

// BotController is the staff-facing control surface.
type BotController interface {
	Power(ctx context.Context, tenantID string, cmd domain.PowerCommand) (*domain.BotPower, error)
	TenantSummary(ctx context.Context, tenantID string) (*domain.TenantBotSummary, error)
	ListSessions(ctx context.Context, tenantID string) ([]domain.Session, error)
	ControlSession(ctx context.Context, tenantID, sessionID string, cmd domain.PowerCommand) (*domain.Session, error)
	MarkHumanChatting(ctx context.Context, tenantID, sessionID string) (*domain.Session, error)
	History(ctx context.Context, tenantID, sessionID string) ([]domain.Turn, error)
	DeleteHistory(ctx context.Context, tenantID, sessionID string) (int, error)
	Orders(ctx context.Context, tenantID, sessionID string, status domain.OrderStatus) ([]domain.Order, error)
	Order(ctx context.Context, tenantID, orderID string) (*domain.Order, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *appdomain.ErrNotFound
	var circuitOpen *appdomain.ErrCircuitOpen
	var timeout *appdomain.ErrTimeout
	var validation *appdomain.ErrValidation
	var external *appdomain.ErrExternalService
	var unauthorized *appdomain.ErrUnauthorized
	var conflict *appdomain.ErrConflict

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &conflict):
		logger.Warn("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(external.Err))
		writeError(w, http.StatusBadGateway, "external service unavailable: "+external.Service)
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
