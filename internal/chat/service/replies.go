package service

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed replies.yaml
var defaultRepliesYAML []byte

// Replies is the catalog of customer-facing texts.
type Replies struct {
	BotPaused         string `yaml:"bot_paused"`
	TenantPaused      string `yaml:"tenant_paused"`
	AgentComing       string `yaml:"agent_coming"`
	Reengage          string `yaml:"reengage"`
	Apology           string `yaml:"apology"`
	ImageApology      string `yaml:"image_apology"`
	ImageUnrecognized string `yaml:"image_unrecognized"`
	ImageQuestion     string `yaml:"image_default_question"`

	ConfirmNoItems    string `yaml:"confirm_no_items"`
	ConfirmReceived   string `yaml:"confirm_received"`
	AskCustomerInfo   string `yaml:"ask_customer_info"`
	PurchaseCancelled string `yaml:"purchase_cancelled"`
	AddMoreToOrder    string `yaml:"add_more_to_order"`

	ReturningCustomerHeader    string `yaml:"returning_customer_header"`
	ReturningCustomerName      string `yaml:"returning_customer_name"`
	ReturningCustomerPhone     string `yaml:"returning_customer_phone"`
	ReturningCustomerAddress   string `yaml:"returning_customer_address"`
	ReturningCustomerLastOrder string `yaml:"returning_customer_last_order"`
	ReturningCustomerQuestion  string `yaml:"returning_customer_question"`
	RecognizedByPhone          string `yaml:"recognized_by_phone"`
	MissingInfo                string `yaml:"missing_info"`
	FieldName                  string `yaml:"field_name"`
	FieldPhone                 string `yaml:"field_phone"`
	FieldAddress               string `yaml:"field_address"`
	FieldJoiner                string `yaml:"field_joiner"`
	NoItemsHandover            string `yaml:"no_items_handover"`
	OrderCreated               string `yaml:"order_created"`

	AddToOrder    string `yaml:"add_to_order"`
	BankTransfer  string `yaml:"bank_transfer"`
	HumanHandover string `yaml:"human_handover"`
	Warranty      string `yaml:"warranty"`

	StoreIntroNamed   string `yaml:"store_intro_named"`
	StoreIntro        string `yaml:"store_intro"`
	StoreAddress      string `yaml:"store_address"`
	StorePhone        string `yaml:"store_phone"`
	StoreWebsite      string `yaml:"store_website"`
	StoreFacebook     string `yaml:"store_facebook"`
	StoreMap          string `yaml:"store_map"`
	StoreImageCaption string `yaml:"store_image_caption"`
	NoStoreInfo       string `yaml:"no_store_info"`

	AskWhichProduct       string `yaml:"ask_which_product"`
	ItemsConfirmed        string `yaml:"items_confirmed"`
	OutOfStock            string `yaml:"out_of_stock"`
	InsufficientStock     string `yaml:"insufficient_stock"`
	InsufficientStockItem string `yaml:"insufficient_stock_item"`
	NotFound              string `yaml:"not_found"`
	NotFoundVariants      string `yaml:"not_found_variants"`
	NotFoundUnknown       string `yaml:"not_found_unknown"`
	CloseMatch            string `yaml:"close_match"`
	AskPlaceOrder         string `yaml:"ask_place_order"`
	PurchaseQuery         string `yaml:"purchase_query"`
	PurchaseQueryProps    string `yaml:"purchase_query_props"`

	NoSearchContext     string `yaml:"no_search_context"`
	PaginationExhausted string `yaml:"pagination_exhausted"`
	ImagesPrefix        string `yaml:"images_prefix"`

	SweeperResumed string `yaml:"sweeper_resumed"`
	StaffResumed   string `yaml:"staff_resumed"`
}

// DefaultReplies returns the built-in catalog.
func DefaultReplies() *Replies {
	r := &Replies{}
	if err := yaml.Unmarshal(defaultRepliesYAML, r); err != nil {
		panic("invalid embedded replies catalog: " + err.Error())
	}
	return r
}

// LoadReplies returns the built-in catalog with the keys present in the
// YAML file at path applied over it. An empty path returns the defaults.
func LoadReplies(path string) (*Replies, error) {
	r := DefaultReplies()
	if path == "" {
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replies file: %w", err)
	}
	if err := yaml.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("parse replies file %s: %w", path, err)
	}
	return r, nil
}

// fill replaces {key} placeholders using alternating key, value pairs.
func fill(tpl string, kv ...string) string {
	if len(kv) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
