package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// maxChatBody bounds the request body; inline images arrive base64-encoded.
const maxChatBody = 16 << 20

// ChatHandler serves POST /v1/chat/{tenantID}/{sessionID}.
//
// Request:
//
//	{"message": "...", "model": "...", "api_key": "...", "image_url": "...", "image_base64": "..."}
//
// A failure inside the turn still answers 200 with an apology; only input
// and locking problems map to error statuses.
func ChatHandler(chatSvc MessageProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat/{tenantID}/{sessionID}")
		defer span.End()

		tenantID := chi.URLParam(r, "tenantID")
		sessionID := chi.URLParam(r, "sessionID")
		span.SetAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("session.id", sessionID),
		)

		var req domain.ChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.TenantID = tenantID
		req.SessionID = sessionID

		resp, err := chatSvc.ProcessMessage(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
