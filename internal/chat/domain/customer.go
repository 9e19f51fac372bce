package domain

import "time"

// CustomerProfile is the contact record a tenant keeps for a customer.
type CustomerProfile struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Email     string    `json:"email,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileFields is a partial profile update; blank fields are ignored.
type ProfileFields struct {
	Name    string
	Phone   string
	Address string
	Email   string
	Notes   string
}

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// Order is a finalized purchase belonging to one profile.
type Order struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	SessionID string      `json:"session_id"`
	ProfileID string      `json:"customer_profile_id"`
	Status    OrderStatus `json:"status"`
	Items     []OrderItem `json:"items,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderItem is one line of an order. Properties is empty when the
// product has no meaningful variant.
type OrderItem struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id"`
	ProductName string  `json:"product_name"`
	Properties  string  `json:"properties,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price,omitempty"`
	TotalPrice  float64 `json:"total_price,omitempty"`
}

// OrderLine is the input for one order item.
type OrderLine struct {
	ProductName string
	Properties  string
	Quantity    int
	UnitPrice   float64
}
