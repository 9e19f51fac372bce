// Package domain holds the types of the chatbot core: sessions and their
// conversational state, products and match results, intents, chat messages,
// customer profiles and orders.
//
// Everything here is plain data. Behaviour that needs collaborators lives in
// the service package; the only logic kept here is normalization that must
// hold at the persistence boundary (product keys, flexible scalars, property
// cleanup) and snapshot copying.
package domain

import (
	"math"
	"time"
)

// ============================================================
// Session: coarse control status + conversational state
// ============================================================

// SessionStatus is the coarse control flag of a session.
type SessionStatus string

const (
	StatusActive        SessionStatus = "active"
	StatusStopped       SessionStatus = "stopped"
	StatusHumanCalling  SessionStatus = "human_calling"
	StatusHumanChatting SessionStatus = "human_chatting"
)

// ConversationState is the fine-grained state kept in session data.
// The zero value is the null/active state.
type ConversationState string

const (
	StateActive                       ConversationState = ""
	StateHumanCalling                 ConversationState = "human_calling"
	StateHumanChatting                ConversationState = "human_chatting"
	StateStopBot                      ConversationState = "stop_bot"
	StateAwaitingPurchaseConfirmation ConversationState = "awaiting_purchase_confirmation"
	StateAwaitingCustomerInfo         ConversationState = "awaiting_customer_info"
)

// IsHandover reports whether the state hands the session to a human.
func (s ConversationState) IsHandover() bool {
	return s == StateHumanCalling || s == StateHumanChatting
}

// Session is one customer's conversation with a tenant's bot,
// identified by (TenantID, SessionID).
type Session struct {
	TenantID  string        `json:"tenant_id"`
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Data      SessionData   `json:"session_data"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// LastQuery is the product search remembered for "show more" pagination.
type LastQuery struct {
	Products []ProductIntent `json:"products"`
}

// SessionData is the mutable blob persisted with each session.
// It is always handled as a value snapshot: read, copied with Clone,
// changed on the copy and written back whole.
type SessionData struct {
	LastQuery             *LastQuery         `json:"last_query"`
	Offset                int                `json:"offset"`
	ShownProductKeys      ProductKeys        `json:"shown_product_keys"`
	State                 ConversationState  `json:"state"`
	PendingPurchaseItem   []PendingOrderItem `json:"pending_purchase_item"`
	PendingOrder          []PendingOrderItem `json:"pending_order"`
	NegativityScore       int                `json:"negativity_score"`
	HandoverTimestamp     float64            `json:"handover_timestamp"`
	CollectedCustomerInfo CustomerInfo       `json:"collected_customer_info"`
	HasPastPurchase       bool               `json:"has_past_purchase"`
	ExistingProfileID     string             `json:"existing_profile_id,omitempty"`
}

// DefaultSessionData is the data a lazily created session starts with.
func DefaultSessionData() SessionData {
	return SessionData{ShownProductKeys: ProductKeys{}}
}

// HandoverAt returns the time the session entered a handover state,
// or the zero time when none was recorded.
func (d SessionData) HandoverAt() time.Time {
	if d.HandoverTimestamp <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(d.HandoverTimestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// WithHandoverAt returns a copy with the handover timestamp set to t.
func (d SessionData) WithHandoverAt(t time.Time) SessionData {
	out := d.Clone()
	out.HandoverTimestamp = float64(t.UnixNano()) / 1e9
	return out
}

// Clone returns a deep copy so branches never share slices with the
// snapshot they were given.
func (d SessionData) Clone() SessionData {
	out := d
	if d.LastQuery != nil {
		lq := LastQuery{Products: append([]ProductIntent(nil), d.LastQuery.Products...)}
		out.LastQuery = &lq
	}
	out.ShownProductKeys = d.ShownProductKeys.Clone()
	out.PendingPurchaseItem = clonePending(d.PendingPurchaseItem)
	out.PendingOrder = clonePending(d.PendingOrder)
	return out
}

func clonePending(items []PendingOrderItem) []PendingOrderItem {
	if items == nil {
		return nil
	}
	out := make([]PendingOrderItem, len(items))
	for i, it := range items {
		out[i] = it
		if it.Evaluation != nil {
			ev := *it.Evaluation
			if ev.Product != nil {
				p := ev.Product.Clone()
				ev.Product = &p
			}
			out[i].Evaluation = &ev
		}
	}
	return out
}
