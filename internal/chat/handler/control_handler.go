package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Staff endpoints
// ============================================================

type commandRequest struct {
	Command string `json:"command"`
}

func decodeCommand(r *http.Request) (domain.PowerCommand, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	return domain.PowerCommand(strings.ToLower(strings.TrimSpace(req.Command))), true
}

// GlobalPowerHandler serves POST /v1/control/bot.
func GlobalPowerHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/control/bot")
		defer span.End()

		cmd, ok := decodeCommand(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		power, err := ctrl.Power(ctx, "", cmd)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, power)
	}
}

// TenantPowerHandler serves POST /v1/tenants/{tenantID}/bot.
func TenantPowerHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tenants/{tenantID}/bot")
		defer span.End()

		cmd, ok := decodeCommand(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		power, err := ctrl.Power(ctx, chi.URLParam(r, "tenantID"), cmd)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, power)
	}
}

// TenantStatusHandler serves GET /v1/tenants/{tenantID}/bot.
func TenantStatusHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := ctrl.TenantSummary(r.Context(), chi.URLParam(r, "tenantID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// sessionControl is the staff view of one session.
type sessionControl struct {
	SessionID         string     `json:"session_id"`
	Status            string     `json:"status"`
	State             string     `json:"state"`
	HandoverTimestamp *time.Time `json:"handover_timestamp,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toSessionControl(s domain.Session) sessionControl {
	out := sessionControl{
		SessionID: s.SessionID,
		Status:    string(s.Status),
		State:     string(s.Data.State),
		UpdatedAt: s.UpdatedAt,
	}
	if ts := s.Data.HandoverTimestamp; ts > 0 {
		t := time.Unix(0, int64(ts*float64(time.Second))).UTC()
		out.HandoverTimestamp = &t
	}
	return out
}

// ListSessionsHandler serves GET /v1/tenants/{tenantID}/sessions.
func ListSessionsHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := ctrl.ListSessions(r.Context(), chi.URLParam(r, "tenantID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		out := make([]sessionControl, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, toSessionControl(s))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out, "total": len(out)})
	}
}

// SessionControlHandler serves POST /v1/tenants/{tenantID}/sessions/{sessionID}/control.
func SessionControlHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tenants/{tenantID}/sessions/{sessionID}/control")
		defer span.End()

		cmd, ok := decodeCommand(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sess, err := ctrl.ControlSession(ctx, chi.URLParam(r, "tenantID"), chi.URLParam(r, "sessionID"), cmd)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toSessionControl(*sess))
	}
}

// HumanChattingHandler serves POST /v1/tenants/{tenantID}/sessions/{sessionID}/human-chatting.
func HumanChattingHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := ctrl.MarkHumanChatting(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "sessionID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, toSessionControl(*sess))
	}
}

// HistoryHandler serves GET /v1/tenants/{tenantID}/sessions/{sessionID}/history.
func HistoryHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := ctrl.History(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "sessionID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": turns})
	}
}

// DeleteHistoryHandler serves DELETE /v1/tenants/{tenantID}/sessions/{sessionID}/history.
func DeleteHistoryHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := ctrl.DeleteHistory(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "sessionID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

// ListOrdersHandler serves GET /v1/tenants/{tenantID}/orders?session_id=|status=.
func ListOrdersHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		orders, err := ctrl.Orders(r.Context(), chi.URLParam(r, "tenantID"),
			q.Get("session_id"), domain.OrderStatus(strings.ToLower(q.Get("status"))))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if orders == nil {
			orders = []domain.Order{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": orders, "total": len(orders)})
	}
}

// GetOrderHandler serves GET /v1/tenants/{tenantID}/orders/{orderID}.
func GetOrderHandler(ctrl BotController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := ctrl.Order(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "orderID"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// Routes mounts the chat and staff routes. Staff routes run behind staffAuth.
func Routes(chatSvc MessageProcessor, ctrl BotController, staffAuth func(http.Handler) http.Handler, logger *zap.Logger) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/chat/{tenantID}/{sessionID}", ChatHandler(chatSvc, logger))

		r.Group(func(r chi.Router) {
			if staffAuth != nil {
				r.Use(staffAuth)
			}
			r.Post("/control/bot", GlobalPowerHandler(ctrl, logger))
			r.Route("/tenants/{tenantID}", func(r chi.Router) {
				r.Post("/bot", TenantPowerHandler(ctrl, logger))
				r.Get("/bot", TenantStatusHandler(ctrl, logger))
				r.Get("/sessions", ListSessionsHandler(ctrl, logger))
				r.Post("/sessions/{sessionID}/control", SessionControlHandler(ctrl, logger))
				r.Post("/sessions/{sessionID}/human-chatting", HumanChattingHandler(ctrl, logger))
				r.Get("/sessions/{sessionID}/history", HistoryHandler(ctrl, logger))
				r.Delete("/sessions/{sessionID}/history", DeleteHistoryHandler(ctrl, logger))
				r.Get("/orders", ListOrdersHandler(ctrl, logger))
				r.Get("/orders/{orderID}", GetOrderHandler(ctrl, logger))
			})
		})
	}
}
