package service

import (
	"time"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Outcome: the result of handling one message
// ============================================================

// Outcome is what a branch of the state machine decides for a turn: the
// reply, the next session snapshot and the flags the formatter needs.
// Branches never write; ChatService applies the Outcome.
type Outcome struct {
	Reply string
	Data  domain.SessionData

	// Status overrides the status derived from Data.State (staff stops).
	Status domain.SessionStatus

	Products     []domain.Product
	ImageNames   []string
	WantsImages  bool
	Images       []domain.ImageInfo
	CustomerInfo *domain.CustomerInfoPayload

	HandoverRequired bool
	HasNegativity    bool
	HasPurchase      bool

	// Persist is false when the session must stay untouched, e.g. after a
	// collaborator failure or a short-circuited message.
	Persist bool
	// LogUser records the user message in the chat log.
	LogUser bool
}

func reply(text string, data domain.SessionData) Outcome {
	return Outcome{Reply: text, Data: data, Persist: true, LogUser: true}
}

// apology leaves the session as it was.
func apology(r *Replies, data domain.SessionData) Outcome {
	return Outcome{Reply: r.Apology, Data: data}
}

// ============================================================
// Pure snapshot transitions
// ============================================================

// statusFor derives the coarse status written alongside a state so both
// fields describe the same handover situation.
func statusFor(state domain.ConversationState) domain.SessionStatus {
	switch state {
	case domain.StateHumanCalling:
		return domain.StatusHumanCalling
	case domain.StateHumanChatting:
		return domain.StatusHumanChatting
	case domain.StateStopBot:
		return domain.StatusStopped
	default:
		return domain.StatusActive
	}
}

// resetToActive clears the conversational state and handover clock.
func resetToActive(d domain.SessionData) domain.SessionData {
	out := d.Clone()
	out.State = domain.StateActive
	out.HandoverTimestamp = 0
	return out
}

// enterHandover moves the session to human_calling and starts the clock.
func enterHandover(d domain.SessionData, now time.Time) domain.SessionData {
	out := d.WithHandoverAt(now)
	out.State = domain.StateHumanCalling
	return out
}

// enterHumanChatting records that staff took over the session.
func enterHumanChatting(d domain.SessionData, now time.Time) domain.SessionData {
	out := d.WithHandoverAt(now)
	out.State = domain.StateHumanChatting
	return out
}

// resumeFromHandover returns a handed-over session to the bot.
func resumeFromHandover(d domain.SessionData) domain.SessionData {
	out := resetToActive(d)
	out.NegativityScore = 0
	return out
}

// stopBot silences the bot for the session and forgets collected contact info.
func stopBot(d domain.SessionData) domain.SessionData {
	out := d.Clone()
	out.State = domain.StateStopBot
	out.HandoverTimestamp = 0
	out.CollectedCustomerInfo = domain.CustomerInfo{}
	return out
}

// bumpNegativity increments the frustration counter. When it reaches
// threshold the counter resets and reached is true.
func bumpNegativity(d domain.SessionData, threshold int) (next domain.SessionData, reached bool) {
	out := d.Clone()
	out.NegativityScore++
	if out.NegativityScore >= threshold {
		out.NegativityScore = 0
		return out, true
	}
	return out, false
}

// awaitConfirmation parks confirmed items and asks the customer to confirm.
func awaitConfirmation(d domain.SessionData, confirmed []domain.PendingOrderItem) domain.SessionData {
	out := d.Clone()
	out.State = domain.StateAwaitingPurchaseConfirmation
	out.PendingPurchaseItem = confirmed
	out.PendingOrder = nil
	return out
}

// awaitCustomerInfo waits for name, phone and address.
func awaitCustomerInfo(d domain.SessionData) domain.SessionData {
	out := d.Clone()
	out.State = domain.StateAwaitingCustomerInfo
	return out
}

// clearPendingPurchase drops the items awaiting confirmation and returns to active.
func clearPendingPurchase(d domain.SessionData) domain.SessionData {
	out := resetToActive(d)
	out.PendingPurchaseItem = nil
	return out
}

// completePurchase finishes a purchase: items are consumed, the customer
// is marked as having bought before.
func completePurchase(d domain.SessionData) domain.SessionData {
	out := clearPendingPurchase(d)
	out.HasPastPurchase = true
	out.ExistingProfileID = ""
	return out
}

// reopenOrder moves parked items back into negotiation together with new
// intents, e.g. when the customer adds products while giving contact info.
func reopenOrder(d domain.SessionData, intents []domain.ProductIntent) domain.SessionData {
	out := resetToActive(d)
	out.PendingOrder = append(out.PendingPurchaseItem, domain.NewPendingItems(intents)...)
	out.PendingPurchaseItem = nil
	return out
}

// rememberQuery stores a new search for later pagination.
func rememberQuery(d domain.SessionData, intents []domain.ProductIntent, shown []domain.Product) domain.SessionData {
	out := d.Clone()
	out.LastQuery = &domain.LastQuery{Products: append([]domain.ProductIntent(nil), intents...)}
	out.Offset = 0
	out.ShownProductKeys = domain.ProductKeys{}
	for _, p := range shown {
		out.ShownProductKeys = out.ShownProductKeys.Add(p.Key())
	}
	return out
}

// forgetQuery clears pagination context.
func forgetQuery(d domain.SessionData) domain.SessionData {
	out := d.Clone()
	out.LastQuery = nil
	out.Offset = 0
	out.ShownProductKeys = domain.ProductKeys{}
	return out
}

// advancePage moves the pagination cursor and records newly shown products.
func advancePage(d domain.SessionData, offset int, shown []domain.Product) domain.SessionData {
	out := d.Clone()
	out.Offset = offset
	for _, p := range shown {
		out.ShownProductKeys = out.ShownProductKeys.Add(p.Key())
	}
	return out
}
