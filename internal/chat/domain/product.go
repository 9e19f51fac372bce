package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexString holds a scalar that catalog sources emit inconsistently as a
// JSON string, number or null (inventory counts, property labels).
type FlexString string

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
	default:
		*f = FlexString(s)
	}
	return nil
}

// String returns the raw text.
func (f FlexString) String() string { return string(f) }

// Int parses the value as an integer. Malformed or empty values yield 0;
// decimal text is truncated.
func (f FlexString) Int() int {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		return int(fl)
	}
	return 0
}

// Product is a catalog record returned by the search collaborators.
type Product struct {
	ProductName    string     `json:"product_name"`
	Category       string     `json:"category,omitempty"`
	Properties     FlexString `json:"properties,omitempty"`
	Specifications string     `json:"specifications,omitempty"`
	Price          FlexString `json:"price,omitempty"`
	Inventory      FlexString `json:"inventory,omitempty"`
	LinkProduct    string     `json:"link_product,omitempty"`
	AvatarImages   []string   `json:"avatar_images,omitempty"`
}

// Key identifies a product variant: "product_name::properties".
func (p Product) Key() string {
	return p.ProductName + "::" + string(p.Properties)
}

// StockQuantity is the parsed inventory; malformed or missing counts as 0.
func (p Product) StockQuantity() int {
	return p.Inventory.Int()
}

// CleanProperties returns the properties with placeholder values
// ("0", "N/A", blank) normalized to "".
func (p Product) CleanProperties() string {
	return NormalizeProperties(string(p.Properties))
}

// DisplayName renders "name (properties)" with properties lowercased,
// or just the name when there are no meaningful properties.
func (p Product) DisplayName() string {
	if props := p.CleanProperties(); props != "" {
		return p.ProductName + " (" + strings.ToLower(props) + ")"
	}
	return p.ProductName
}

// FirstImage returns the first non-empty avatar URL.
func (p Product) FirstImage() string {
	for _, u := range p.AvatarImages {
		if strings.TrimSpace(u) != "" {
			return u
		}
	}
	return ""
}

// Clone returns a copy that shares no slices with p.
func (p Product) Clone() Product {
	out := p
	out.AvatarImages = append([]string(nil), p.AvatarImages...)
	return out
}

// NormalizeProperties maps the placeholder values 0, "0", "N/A" and blank
// to "" (no properties); anything else is returned trimmed.
func NormalizeProperties(v string) string {
	s := strings.TrimSpace(v)
	switch strings.ToUpper(s) {
	case "", "0", "N/A", "NONE", "NULL":
		return ""
	}
	return s
}

// ============================================================
// Intent → match → pending item
// ============================================================

// ProductIntent is one product the customer asked about.
type ProductIntent struct {
	ProductName string `json:"product_name"`
	Category    string `json:"category,omitempty"`
	Properties  string `json:"properties,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

// Qty is the requested quantity, defaulting to 1.
func (i ProductIntent) Qty() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// MatchType is the matcher's confidence tier.
type MatchType string

const (
	PerfectMatch MatchType = "PERFECT_MATCH"
	CloseMatch   MatchType = "CLOSE_MATCH"
	NoMatch      MatchType = "NO_MATCH"
)

// MatchResult is the evaluation of a candidate batch against an intent.
type MatchResult struct {
	Type    MatchType `json:"type"`
	Product *Product  `json:"product,omitempty"`
	Score   float64   `json:"score"`
	Reason  string    `json:"reason,omitempty"`
}

// IsClose reports a CLOSE_MATCH carrying a suggested product.
func (m *MatchResult) IsClose() bool {
	return m != nil && m.Type == CloseMatch && m.Product != nil
}

// ItemStatus is the lifecycle status of a pending order item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemConfirmed ItemStatus = "confirmed"
	ItemFailed    ItemStatus = "failed"
)

// FailureReason explains a failed item that did match a product.
type FailureReason string

const (
	FailureOutOfStock        FailureReason = "out_of_stock"
	FailureInsufficientStock FailureReason = "insufficient_stock"
)

// PendingOrderItem is an item being negotiated inside session data.
type PendingOrderItem struct {
	Intent        ProductIntent `json:"intent"`
	Status        ItemStatus    `json:"status"`
	Evaluation    *MatchResult  `json:"evaluation"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// MatchedProduct returns the evaluated product, or nil.
func (it PendingOrderItem) MatchedProduct() *Product {
	if it.Evaluation == nil {
		return nil
	}
	return it.Evaluation.Product
}

// NewPendingItems wraps intents as fresh pending items.
func NewPendingItems(intents []ProductIntent) []PendingOrderItem {
	out := make([]PendingOrderItem, 0, len(intents))
	for _, in := range intents {
		out = append(out, PendingOrderItem{Intent: in, Status: ItemPending})
	}
	return out
}
