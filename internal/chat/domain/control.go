package domain

// StoreInfo is the read-only store metadata used to answer
// "where is your shop" questions.
type StoreInfo struct {
	StoreName       string `json:"store_name,omitempty"`
	StoreAddress    string `json:"store_address,omitempty"`
	StorePhone      string `json:"store_phone,omitempty"`
	StoreWebsite    string `json:"store_website,omitempty"`
	StoreFacebook   string `json:"store_facebook,omitempty"`
	StoreAddressMap string `json:"store_address_map,omitempty"`
	StoreImage      string `json:"store_image,omitempty"`
}

// Empty reports whether no field is set.
func (s StoreInfo) Empty() bool {
	return s == StoreInfo{}
}

// PowerCommand is a start/stop/status command from staff.
type PowerCommand string

const (
	CommandStart  PowerCommand = "start"
	CommandStop   PowerCommand = "stop"
	CommandStatus PowerCommand = "status"
)

// BotPower is the answer to a power command.
type BotPower struct {
	Scope    string `json:"scope"`
	TenantID string `json:"tenant_id,omitempty"`
	Active   bool   `json:"bot_active"`
}

// TenantBotSummary tallies the session statuses of a tenant.
type TenantBotSummary struct {
	TenantID      string `json:"tenant_id"`
	BotActive     bool   `json:"bot_active"`
	TotalSessions int    `json:"total_sessions"`
	Active        int    `json:"active"`
	Stopped       int    `json:"stopped"`
	HumanCalling  int    `json:"human_calling"`
	HumanChatting int    `json:"human_chatting"`
}
