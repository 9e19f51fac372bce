package domain

import "time"

// ============================================================
// Chat log
// ============================================================

// Role is the author of a chat message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// ChatMessage is an append-only chat log entry.
type ChatMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one (user, bot) exchange of the formatted history.
type Turn struct {
	User string `json:"user"`
	Bot  string `json:"bot"`
}

// PairHistory folds messages, oldest first, into turns. A user message
// followed by a bot message forms one turn; a lone user message pairs with
// an empty bot reply and a lone bot message with an empty user text.
func PairHistory(msgs []ChatMessage) []Turn {
	turns := make([]Turn, 0, len(msgs)/2+1)
	for i := 0; i < len(msgs); i++ {
		switch msgs[i].Role {
		case RoleUser:
			if i+1 < len(msgs) && msgs[i+1].Role == RoleBot {
				turns = append(turns, Turn{User: msgs[i].Text, Bot: msgs[i+1].Text})
				i++
				continue
			}
			turns = append(turns, Turn{User: msgs[i].Text})
		case RoleBot:
			turns = append(turns, Turn{Bot: msgs[i].Text})
		}
	}
	return turns
}

// ============================================================
// Chat: request/response between callers and the bot
// ============================================================

// ChatRequest is one inbound customer message.
type ChatRequest struct {
	TenantID  string `json:"-"`
	SessionID string `json:"-"`

	Message     string `json:"message"`
	Model       string `json:"model,omitempty"`
	APIKey      string `json:"api_key"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// HasImage reports whether an image was attached.
func (r ChatRequest) HasImage() bool {
	return r.ImageURL != "" || r.ImageBase64 != ""
}

// ImageInfo is an image attached to a reply.
type ImageInfo struct {
	ProductName string `json:"product_name"`
	ImageURL    string `json:"image_url"`
	ProductLink string `json:"product_link"`
}

// PurchaseItem is one line of a finalized purchase.
type PurchaseItem struct {
	ProductName string `json:"product_name"`
	Properties  string `json:"properties,omitempty"`
	Quantity    int    `json:"quantity"`
}

// CustomerInfoPayload is returned when a purchase is finalized.
type CustomerInfoPayload struct {
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Address string         `json:"address"`
	Items   []PurchaseItem `json:"items"`
}

// ActionData tells the client to do something beside showing the reply.
type ActionData struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

// ChatResponse is what the bot returns for a message.
type ChatResponse struct {
	Reply                 string               `json:"reply"`
	History               []Turn               `json:"history"`
	Images                []ImageInfo          `json:"images"`
	HasImages             bool                 `json:"has_images"`
	HasPurchase           bool                 `json:"has_purchase"`
	CustomerInfo          *CustomerInfoPayload `json:"customer_info,omitempty"`
	HumanHandoverRequired bool                 `json:"human_handover_required"`
	HasNegativity         bool                 `json:"has_negativity"`
	ActionData            *ActionData          `json:"action_data,omitempty"`
}
