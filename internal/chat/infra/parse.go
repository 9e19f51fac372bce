package infra

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
)

// extractJSON returns the outermost JSON object in raw, skipping markdown
// fences and any text around the object.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return s[start : end+1], nil
}

func decodeJSON(raw string, dst any) error {
	obj, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), dst); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// decodeIntent reads the classifier output field by field. A flag or product
// the model mistyped is dropped on its own instead of failing the decode.
func decodeIntent(raw string) (domain.IntentAnalysis, error) {
	var fields map[string]json.RawMessage
	if err := decodeJSON(raw, &fields); err != nil {
		return domain.IntentAnalysis{}, err
	}
	return domain.IntentAnalysis{
		NeedsSearch:          flexBool(fields["needs_search"]),
		IsPurchaseIntent:     flexBool(fields["is_purchase_intent"]),
		IsAddToOrderIntent:   flexBool(fields["is_add_to_order_intent"]),
		WantsHumanAgent:      flexBool(fields["wants_human_agent"]),
		WantsStoreInfo:       flexBool(fields["wants_store_info"]),
		WantsWarrantyService: flexBool(fields["wants_warranty_service"]),
		IsNegative:           flexBool(fields["is_negative"]),
		IsBankTransfer:       flexBool(fields["is_bank_transfer"]),
		WantsImages:          flexBool(fields["wants_images"]),
		WantsSpecs:           flexBool(fields["wants_specs"]),
		SearchParams:         domain.SearchParams{Products: decodeProductIntents(fields["search_params"])},
	}, nil
}

type productIntentWire struct {
	ProductName domain.FlexString `json:"product_name"`
	Category    domain.FlexString `json:"category"`
	Properties  domain.FlexString `json:"properties"`
	Quantity    domain.FlexString `json:"quantity"`
}

func decodeProductIntents(raw json.RawMessage) []domain.ProductIntent {
	var params struct {
		Products []json.RawMessage `json:"products"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &params) != nil {
		return nil
	}

	products := make([]domain.ProductIntent, 0, len(params.Products))
	for _, item := range params.Products {
		var w productIntentWire
		if err := json.Unmarshal(item, &w); err != nil {
			continue
		}
		p := domain.ProductIntent{
			ProductName: strings.TrimSpace(w.ProductName.String()),
			Category:    strings.TrimSpace(w.Category.String()),
			Properties:  strings.TrimSpace(w.Properties.String()),
			Quantity:    w.Quantity.Int(),
		}
		if p.ProductName == "" && p.Category == "" {
			continue
		}
		if p.Quantity <= 0 {
			p.Quantity = 1
		}
		products = append(products, p)
	}
	return products
}

// flexBool accepts true/false as JSON booleans, strings or 0/1.
func flexBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v domain.FlexString
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v.String())))
	return err == nil && b
}

func decodeCustomerInfo(raw string) (domain.CustomerInfo, error) {
	var w struct {
		Name    domain.FlexString `json:"name"`
		Phone   domain.FlexString `json:"phone"`
		Address domain.FlexString `json:"address"`
	}
	if err := decodeJSON(raw, &w); err != nil {
		return domain.CustomerInfo{}, err
	}
	return domain.CustomerInfo{}.Merge(domain.CustomerInfo{
		Name:    w.Name.String(),
		Phone:   w.Phone.String(),
		Address: w.Address.String(),
	}), nil
}

// decodeMatch maps the chosen 1-based index back to a product. An index
// outside the list leaves the product nil.
func decodeMatch(raw string, products []domain.Product) (domain.MatchResult, error) {
	var out struct {
		Type         string  `json:"type"`
		ProductIndex int     `json:"product_index"`
		Score        float64 `json:"score"`
		Reason       string  `json:"reason"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return domain.MatchResult{}, err
	}

	res := domain.MatchResult{Type: domain.NoMatch, Score: clamp01(out.Score), Reason: out.Reason}
	switch domain.MatchType(strings.ToUpper(strings.TrimSpace(out.Type))) {
	case domain.PerfectMatch:
		res.Type = domain.PerfectMatch
	case domain.CloseMatch:
		res.Type = domain.CloseMatch
	default:
		res.Score = 0
		return res, nil
	}
	if i := out.ProductIndex - 1; i >= 0 && i < len(products) {
		p := products[i].Clone()
		res.Product = &p
	}
	return res, nil
}

func decodeRelevant(raw string, products []domain.Product) ([]domain.Product, error) {
	var out struct {
		Indices []int `json:"relevant_indices"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(out.Indices))
	kept := make([]domain.Product, 0, len(out.Indices))
	for _, idx := range out.Indices {
		i := idx - 1
		if i < 0 || i >= len(products) || seen[i] {
			continue
		}
		seen[i] = true
		kept = append(kept, products[i])
	}
	return kept, nil
}

func decodeDecision(raw string) (domain.ConfirmationDecision, error) {
	var out struct {
		Decision string `json:"decision"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return domain.DecisionUnclear, err
	}
	switch d := domain.ConfirmationDecision(strings.ToUpper(strings.TrimSpace(out.Decision))); d {
	case domain.DecisionConfirm, domain.DecisionCancel:
		return d, nil
	}
	return domain.DecisionUnclear, nil
}

func decodeShowMore(raw string) (domain.ShowMoreIntent, error) {
	var out struct {
		Intent string `json:"intent"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return domain.ShowMoreOther, err
	}
	switch i := domain.ShowMoreIntent(strings.ToUpper(strings.TrimSpace(out.Intent))); i {
	case domain.ShowMoreMore, domain.ShowMoreStock:
		return i, nil
	}
	return domain.ShowMoreOther, nil
}

// decodeReply falls back to the raw text when the model ignored the JSON format.
func decodeReply(raw string) port.Reply {
	var out struct {
		Answer        string   `json:"answer"`
		ProductImages []string `json:"product_images"`
	}
	if err := decodeJSON(raw, &out); err != nil || strings.TrimSpace(out.Answer) == "" {
		return port.Reply{Text: strings.TrimSpace(raw)}
	}
	return port.Reply{Text: strings.TrimSpace(out.Answer), ImageNames: out.ProductImages}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
