package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Purchase confirmation: awaiting_purchase_confirmation
// ============================================================

type confirmationStrategy struct{ s *ChatService }

func (st *confirmationStrategy) Name() string { return "confirmation" }

func (st *confirmationStrategy) CanHandle(t *Turn) bool {
	return t.Data.State == domain.StateAwaitingPurchaseConfirmation
}

func (st *confirmationStrategy) Handle(ctx context.Context, t *Turn) (*Outcome, error) {
	s, r := st.s, st.s.Replies

	decision := st.decide(ctx, t)
	switch decision {
	case domain.DecisionConfirm:
		if len(t.Data.PendingPurchaseItem) == 0 {
			out := reply(r.ConfirmNoItems, clearPendingPurchase(t.Data))
			return &out, nil
		}
		if t.Data.CollectedCustomerInfo.Complete() {
			return s.finalizePurchase(ctx, t, t.Data, "", func(_ string, items []domain.PurchaseItem) string {
				return fill(r.ConfirmReceived, "items", purchaseItemsText(items))
			})
		}
		out := reply(r.AskCustomerInfo, awaitCustomerInfo(t.Data))
		return &out, nil

	case domain.DecisionCancel:
		out := reply(r.PurchaseCancelled, clearPendingPurchase(t.Data))
		return &out, nil
	}

	// Unclear: drop the pending purchase and treat the message as a fresh one.
	t.Data = clearPendingPurchase(t.Data)
	return nil, nil
}

func (st *confirmationStrategy) decide(ctx context.Context, t *Turn) domain.ConfirmationDecision {
	ctx, cancel := withTimeout(ctx, st.s.cfg.AITimeout)
	defer cancel()

	d, err := st.s.AI.EvaluateConfirmation(ctx, t.Message, HistoryText(t.History, 4), t.Creds)
	if err != nil {
		st.s.metrics.IncrExternalError("ai")
		st.s.logger.Warn("confirmation evaluation failed, assuming unclear",
			zap.String("tenant_id", t.TenantID),
			zap.String("session_id", t.SessionID),
			zap.Error(err),
		)
		return domain.DecisionUnclear
	}
	return d
}

// ============================================================
// Contact details: awaiting_customer_info
// ============================================================

type customerInfoStrategy struct{ s *ChatService }

func (st *customerInfoStrategy) Name() string { return "customer_info" }

func (st *customerInfoStrategy) CanHandle(t *Turn) bool {
	return t.Data.State == domain.StateAwaitingCustomerInfo
}

func (st *customerInfoStrategy) Handle(ctx context.Context, t *Turn) (*Outcome, error) {
	s, r := st.s, st.s.Replies

	if t.Analysis.IsPurchaseIntent || t.Analysis.IsAddToOrderIntent {
		if intents := t.Analysis.Products(); len(intents) > 0 {
			out := reply(r.AddMoreToOrder, reopenOrder(t.Data, intents))
			return &out, nil
		}
	}

	existing, err := s.Orders.FindProfile(ctx, t.TenantID, ProfileLookup{SessionID: t.SessionID})
	if err != nil {
		return nil, err
	}

	if existing != nil && t.Data.ExistingProfileID == "" {
		hasOrders, err := s.Orders.profileHasOrders(ctx, existing)
		if err != nil {
			return nil, err
		}
		if hasOrders {
			return st.offerStoredDetails(ctx, t, existing)
		}
	}

	info := t.Data.CollectedCustomerInfo.Merge(st.extract(ctx, t))
	data := t.Data.Clone()
	data.CollectedCustomerInfo = info

	if missing := info.Missing(); len(missing) > 0 {
		out := reply(missingFieldsReply(r, missing), data)
		return &out, nil
	}

	var prefix string
	if existing == nil {
		known, err := s.Orders.HasPriorOrders(ctx, t.TenantID, ProfileLookup{Phone: info.Phone})
		if err != nil {
			return nil, err
		}
		if known {
			prefix = r.RecognizedByPhone
		}
	}

	if len(data.PendingPurchaseItem) == 0 {
		out := reply(r.NoItemsHandover, enterHandover(data, t.Now))
		out.HandoverRequired = true
		return &out, nil
	}

	return s.finalizePurchase(ctx, t, data, prefix, func(orderID string, _ []domain.PurchaseItem) string {
		return fill(r.OrderCreated, "order_id", orderID)
	})
}

// offerStoredDetails shows a returning customer the details on file and
// prefills them. The offer is made once per purchase.
func (st *customerInfoStrategy) offerStoredDetails(ctx context.Context, t *Turn, p *domain.CustomerProfile) (*Outcome, error) {
	r := st.s.Replies

	lines := []string{
		r.ReturningCustomerHeader,
		fill(r.ReturningCustomerName, "name", p.Name),
		fill(r.ReturningCustomerPhone, "phone", p.Phone),
		fill(r.ReturningCustomerAddress, "address", p.Address),
	}
	last, err := st.s.Orders.LastOrder(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		lines = append(lines, fill(r.ReturningCustomerLastOrder, "date", last.CreatedAt.Format("02/01/2006")))
	}
	lines = append(lines, r.ReturningCustomerQuestion)

	data := t.Data.Clone()
	data.CollectedCustomerInfo = domain.CustomerInfo{Name: p.Name, Phone: p.Phone, Address: p.Address}
	data.ExistingProfileID = p.ID

	out := reply(strings.Join(lines, "\n"), data)
	return &out, nil
}

// extract returns no fields when the model call fails.
func (st *customerInfoStrategy) extract(ctx context.Context, t *Turn) domain.CustomerInfo {
	ctx, cancel := withTimeout(ctx, st.s.cfg.AITimeout)
	defer cancel()

	info, err := st.s.AI.ExtractCustomerInfo(ctx, t.Message, t.Creds)
	if err != nil {
		st.s.metrics.IncrExternalError("ai")
		st.s.logger.Warn("customer info extraction failed",
			zap.String("tenant_id", t.TenantID),
			zap.String("session_id", t.SessionID),
			zap.Error(err),
		)
		return domain.CustomerInfo{}
	}
	return info
}

// finalizePurchase stores the profile and a confirmed order for the items
// awaiting confirmation, then closes the purchase.
func (s *ChatService) finalizePurchase(ctx context.Context, t *Turn, data domain.SessionData, prefix string, text func(orderID string, items []domain.PurchaseItem) string) (*Outcome, error) {
	info := data.CollectedCustomerInfo
	profile, err := s.Orders.UpsertProfile(ctx, t.TenantID, t.SessionID, domain.ProfileFields{
		Name:    info.Name,
		Phone:   info.Phone,
		Address: info.Address,
	})
	if err != nil {
		return nil, err
	}

	lines, items := linesFromPending(data.PendingPurchaseItem)
	order, err := s.Orders.CreateOrder(ctx, profile, domain.OrderConfirmed, lines)
	if err != nil {
		return nil, err
	}

	msg := text(order.ID, items)
	if prefix != "" {
		msg = prefix + "\n" + msg
	}
	out := reply(msg, completePurchase(data))
	out.HasPurchase = true
	out.CustomerInfo = &domain.CustomerInfoPayload{
		Name:    info.Name,
		Phone:   info.Phone,
		Address: info.Address,
		Items:   items,
	}
	return &out, nil
}

// ============================================================
// Single-flag intents
// ============================================================

type addToOrderStrategy struct{ s *ChatService }

func (st *addToOrderStrategy) Name() string { return "add_to_order" }

func (st *addToOrderStrategy) CanHandle(t *Turn) bool {
	return t.Analysis.IsAddToOrderIntent && !t.Analysis.IsPurchaseIntent
}

func (st *addToOrderStrategy) Handle(_ context.Context, t *Turn) (*Outcome, error) {
	data := t.Data.Clone()
	data.LastQuery = nil
	out := reply(st.s.Replies.AddToOrder, data)
	return &out, nil
}

type bankTransferStrategy struct{ s *ChatService }

func (st *bankTransferStrategy) Name() string { return "bank_transfer" }

func (st *bankTransferStrategy) CanHandle(t *Turn) bool { return t.Analysis.IsBankTransfer }

func (st *bankTransferStrategy) Handle(_ context.Context, t *Turn) (*Outcome, error) {
	out := reply(st.s.Replies.BankTransfer, enterHandover(t.Data, t.Now))
	out.HandoverRequired = true
	return &out, nil
}

// negativityStrategy counts frustrated messages and hands over at the
// threshold. Below it the message is processed normally with the new count.
type negativityStrategy struct{ s *ChatService }

func (st *negativityStrategy) Name() string { return "negativity" }

func (st *negativityStrategy) CanHandle(t *Turn) bool { return t.Analysis.IsNegative }

func (st *negativityStrategy) Handle(_ context.Context, t *Turn) (*Outcome, error) {
	next, reached := bumpNegativity(t.Data, st.s.cfg.NegativityThreshold)
	if !reached {
		t.Data = next
		return nil, nil
	}
	out := reply(st.s.Replies.HumanHandover, enterHandover(next, t.Now))
	out.HasNegativity = true
	out.HandoverRequired = true
	return &out, nil
}

type storeInfoStrategy struct{ s *ChatService }

func (st *storeInfoStrategy) Name() string { return "store_info" }

func (st *storeInfoStrategy) CanHandle(t *Turn) bool { return t.Analysis.WantsStoreInfo }

func (st *storeInfoStrategy) Handle(ctx context.Context, t *Turn) (*Outcome, error) {
	info, err := st.s.Control.StoreInfo(ctx, t.TenantID)
	if err != nil {
		return nil, err
	}
	text, images := StoreInfoReply(st.s.Replies, info)
	out := reply(text, t.Data)
	out.Images = images
	return &out, nil
}

type warrantyStrategy struct{ s *ChatService }

func (st *warrantyStrategy) Name() string { return "warranty" }

func (st *warrantyStrategy) CanHandle(t *Turn) bool { return t.Analysis.WantsWarrantyService }

func (st *warrantyStrategy) Handle(_ context.Context, t *Turn) (*Outcome, error) {
	out := reply(st.s.Replies.Warranty, enterHandover(t.Data, t.Now))
	out.HandoverRequired = true
	return &out, nil
}

type humanAgentStrategy struct{ s *ChatService }

func (st *humanAgentStrategy) Name() string { return "human_agent" }

func (st *humanAgentStrategy) CanHandle(t *Turn) bool { return t.Analysis.WantsHumanAgent }

func (st *humanAgentStrategy) Handle(_ context.Context, t *Turn) (*Outcome, error) {
	out := reply(st.s.Replies.HumanHandover, enterHandover(t.Data, t.Now))
	out.HandoverRequired = true
	return &out, nil
}

// ============================================================
// Purchase negotiation
// ============================================================

type purchaseStrategy struct{ s *ChatService }

func (st *purchaseStrategy) Name() string { return "purchase" }

func (st *purchaseStrategy) CanHandle(t *Turn) bool { return t.Analysis.IsPurchaseIntent }

// Handle resolves every unconfirmed item of the pending order. When all of
// them are confirmed the customer is asked to place the order.
func (st *purchaseStrategy) Handle(ctx context.Context, t *Turn) (*Outcome, error) {
	s, r := st.s, st.s.Replies

	items := mergePending(t.Data.PendingOrder, t.Analysis.Products())
	if len(items) == 0 {
		out := reply(r.AskWhichProduct, t.Data)
		out.HasPurchase = true
		return &out, nil
	}

	history := HistoryText(t.History, 6)
	for i, it := range items {
		if it.Status == domain.ItemConfirmed {
			continue
		}
		result, err := s.Matcher.Match(ctx, MatchRequest{
			TenantID:    t.TenantID,
			Intent:      it.Intent,
			Query:       EvaluationQuery(r, t.Message, it),
			HistoryText: history,
			Prior:       it.Evaluation,
			Creds:       t.Creds,
		})
		if err != nil {
			return nil, err
		}
		it.Evaluation = &result
		items[i] = CheckInventory(it)
	}

	text := purchaseSummary(r, items)
	var data domain.SessionData
	if allConfirmed(items) {
		data = awaitConfirmation(t.Data, items)
		text += r.AskPlaceOrder
	} else {
		data = t.Data.Clone()
		data.PendingOrder = items
	}

	out := reply(text, data)
	out.HasPurchase = true
	return &out, nil
}

// mergePending returns a copy of pending with the intents it does not
// already hold appended as new items.
func mergePending(pending []domain.PendingOrderItem, intents []domain.ProductIntent) []domain.PendingOrderItem {
	out := make([]domain.PendingOrderItem, 0, len(pending)+len(intents))
	seen := make(map[string]bool, len(pending))
	for _, it := range pending {
		out = append(out, it)
		seen[intentKey(it.Intent)] = true
	}
	for _, in := range intents {
		k := intentKey(in)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, domain.NewPendingItems([]domain.ProductIntent{in})...)
	}
	return out
}

func intentKey(in domain.ProductIntent) string {
	return strings.ToLower(strings.TrimSpace(in.ProductName)) + "::" + strings.ToLower(strings.TrimSpace(in.Properties))
}

func allConfirmed(items []domain.PendingOrderItem) bool {
	for _, it := range items {
		if it.Status != domain.ItemConfirmed {
			return false
		}
	}
	return len(items) > 0
}
