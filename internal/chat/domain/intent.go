package domain

import "strings"

// Credentials select the language model and key for one request.
type Credentials struct {
	Model  string
	APIKey string
}

// SearchParams carries the products extracted from a message.
type SearchParams struct {
	Products []ProductIntent `json:"products"`
}

// IntentAnalysis is the structured classification of a customer message.
// The state machine only branches on these fields.
type IntentAnalysis struct {
	NeedsSearch          bool         `json:"needs_search"`
	IsPurchaseIntent     bool         `json:"is_purchase_intent"`
	IsAddToOrderIntent   bool         `json:"is_add_to_order_intent"`
	WantsHumanAgent      bool         `json:"wants_human_agent"`
	WantsStoreInfo       bool         `json:"wants_store_info"`
	WantsWarrantyService bool         `json:"wants_warranty_service"`
	IsNegative           bool         `json:"is_negative"`
	IsBankTransfer       bool         `json:"is_bank_transfer"`
	WantsImages          bool         `json:"wants_images"`
	WantsSpecs           bool         `json:"wants_specs"`
	SearchParams         SearchParams `json:"search_params"`
}

// Products is a shorthand for SearchParams.Products.
func (a IntentAnalysis) Products() []ProductIntent {
	return a.SearchParams.Products
}

// ConfirmationDecision is the customer's answer to "shall I place the order".
type ConfirmationDecision string

const (
	DecisionConfirm ConfirmationDecision = "CONFIRM"
	DecisionCancel  ConfirmationDecision = "CANCEL"
	DecisionUnclear ConfirmationDecision = "UNCLEAR"
)

// ShowMoreIntent separates pagination requests from stock questions.
type ShowMoreIntent string

const (
	ShowMoreMore  ShowMoreIntent = "MORE"
	ShowMoreStock ShowMoreIntent = "STOCK"
	ShowMoreOther ShowMoreIntent = "OTHER"
)

// CustomerInfo is the contact information collected across turns.
type CustomerInfo struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Merge returns c with every non-blank field of other applied over it.
func (c CustomerInfo) Merge(other CustomerInfo) CustomerInfo {
	if v := strings.TrimSpace(other.Name); v != "" {
		c.Name = v
	}
	if v := strings.TrimSpace(other.Phone); v != "" {
		c.Phone = v
	}
	if v := strings.TrimSpace(other.Address); v != "" {
		c.Address = v
	}
	return c
}

// Complete reports whether name, phone and address are all present.
func (c CustomerInfo) Complete() bool {
	return len(c.Missing()) == 0
}

// InfoField names a customer info field.
type InfoField string

const (
	FieldName    InfoField = "name"
	FieldPhone   InfoField = "phone"
	FieldAddress InfoField = "address"
)

// Missing lists the blank fields in name, phone, address order.
func (c CustomerInfo) Missing() []InfoField {
	var out []InfoField
	if strings.TrimSpace(c.Name) == "" {
		out = append(out, FieldName)
	}
	if strings.TrimSpace(c.Phone) == "" {
		out = append(out, FieldPhone)
	}
	if strings.TrimSpace(c.Address) == "" {
		out = append(out, FieldAddress)
	}
	return out
}
