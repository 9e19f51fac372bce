package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

func TestProductKeys_AddIsDeduplicatedAndOrdered(t *testing.T) {
	var keys domain.ProductKeys
	keys = keys.Add("b::", "a::x", "b::", "c::")
	keys = keys.Add("a::x")

	assert.Equal(t, domain.ProductKeys{"b::", "a::x", "c::"}, keys)
	assert.True(t, keys.Contains("a::x"))
	assert.False(t, keys.Contains("a::"))
}

func TestProductKeys_AddDoesNotAliasReceiver(t *testing.T) {
	base := make(domain.ProductKeys, 1, 8)
	base[0] = "a::"

	left := base.Add("b::")
	right := base.Add("c::")

	assert.Equal(t, domain.ProductKeys{"a::", "b::"}, left)
	assert.Equal(t, domain.ProductKeys{"a::", "c::"}, right)
}

func TestSessionData_RoundTripWithSetLikeKeys(t *testing.T) {
	// A legacy row whose key list was written from an unordered set
	// with a repeated element.
	raw := []byte(`{"shown_product_keys":["x::1","y::","x::1"],"state":"awaiting_customer_info","negativity_score":2}`)

	var d domain.SessionData
	require.NoError(t, json.Unmarshal(raw, &d))
	assert.Equal(t, domain.ProductKeys{"x::1", "y::"}, d.ShownProductKeys)
	assert.Equal(t, domain.StateAwaitingCustomerInfo, d.State)

	out, err := json.Marshal(d)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, []any{"x::1", "y::"}, generic["shown_product_keys"])

	var back domain.SessionData
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, d, back)
}

func TestDefaultSessionData_SerializesKeysAsEmptyArray(t *testing.T) {
	out, err := json.Marshal(domain.DefaultSessionData())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"shown_product_keys":[]`)
	assert.Contains(t, string(out), `"state":""`)
}

func TestSessionData_CloneIsDeep(t *testing.T) {
	p := domain.Product{ProductName: "Laptop", AvatarImages: []string{"a.png"}}
	d := domain.DefaultSessionData()
	d.ShownProductKeys = domain.ProductKeys{"k1"}
	d.LastQuery = &domain.LastQuery{Products: []domain.ProductIntent{{ProductName: "Laptop"}}}
	d.PendingOrder = []domain.PendingOrderItem{{
		Intent:     domain.ProductIntent{ProductName: "Laptop"},
		Status:     domain.ItemPending,
		Evaluation: &domain.MatchResult{Type: domain.CloseMatch, Product: &p, Score: 0.5},
	}}

	c := d.Clone()
	c.ShownProductKeys[0] = "changed"
	c.LastQuery.Products[0].ProductName = "changed"
	c.PendingOrder[0].Status = domain.ItemConfirmed
	c.PendingOrder[0].Evaluation.Score = 1
	c.PendingOrder[0].Evaluation.Product.AvatarImages[0] = "changed"

	assert.Equal(t, "k1", d.ShownProductKeys[0])
	assert.Equal(t, "Laptop", d.LastQuery.Products[0].ProductName)
	assert.Equal(t, domain.ItemPending, d.PendingOrder[0].Status)
	assert.Equal(t, 0.5, d.PendingOrder[0].Evaluation.Score)
	assert.Equal(t, "a.png", p.AvatarImages[0])
}

func TestSessionData_HandoverTimestamp(t *testing.T) {
	var d domain.SessionData
	assert.True(t, d.HandoverAt().IsZero())

	at := time.Unix(1_700_000_000, 500_000_000)
	d = d.WithHandoverAt(at)
	assert.WithinDuration(t, at, d.HandoverAt(), time.Millisecond)
}

func TestFlexString_AcceptsMixedJSON(t *testing.T) {
	var p domain.Product
	require.NoError(t, json.Unmarshal([]byte(`{"product_name":"Mouse","inventory":5,"properties":0,"price":"199000"}`), &p))
	assert.Equal(t, 5, p.StockQuantity())
	assert.Equal(t, "", p.CleanProperties())
	assert.Equal(t, "Mouse::0", p.Key())

	require.NoError(t, json.Unmarshal([]byte(`{"product_name":"Mouse","inventory":"abc"}`), &p))
	assert.Equal(t, 0, p.StockQuantity())

	require.NoError(t, json.Unmarshal([]byte(`{"product_name":"Mouse","inventory":null}`), &p))
	assert.Equal(t, 0, p.StockQuantity())

	require.NoError(t, json.Unmarshal([]byte(`{"product_name":"Mouse","inventory":"7.0"}`), &p))
	assert.Equal(t, 7, p.StockQuantity())
}

func TestNormalizeProperties(t *testing.T) {
	for _, in := range []string{"", " ", "0", "N/A", "None"} {
		assert.Equal(t, "", domain.NormalizeProperties(in), "input %q", in)
	}
	assert.Equal(t, "Đen 128GB", domain.NormalizeProperties(" Đen 128GB "))
}

func TestProduct_DisplayName(t *testing.T) {
	assert.Equal(t, "iPhone 15 (đen)", domain.Product{ProductName: "iPhone 15", Properties: "Đen"}.DisplayName())
	assert.Equal(t, "iPhone 15", domain.Product{ProductName: "iPhone 15", Properties: "0"}.DisplayName())
}

func TestCustomerInfo_MergeKeepsNonBlank(t *testing.T) {
	base := domain.CustomerInfo{Name: "An", Phone: "0901"}
	merged := base.Merge(domain.CustomerInfo{Name: "  ", Address: "Hà Nội"})

	assert.Equal(t, domain.CustomerInfo{Name: "An", Phone: "0901", Address: "Hà Nội"}, merged)
	assert.True(t, merged.Complete())
	assert.Equal(t, []domain.InfoField{domain.FieldPhone, domain.FieldAddress}, domain.CustomerInfo{Name: "An"}.Missing())
}

func TestPairHistory(t *testing.T) {
	msgs := []domain.ChatMessage{
		{Role: domain.RoleUser, Text: "hi"},
		{Role: domain.RoleBot, Text: "hello"},
		{Role: domain.RoleUser, Text: "anyone?"},
		{Role: domain.RoleUser, Text: "still there?"},
		{Role: domain.RoleBot, Text: "yes"},
		{Role: domain.RoleBot, Text: "system notice"},
		{Role: "other", Text: "ignored"},
	}

	turns := domain.PairHistory(msgs)

	assert.Equal(t, []domain.Turn{
		{User: "hi", Bot: "hello"},
		{User: "anyone?"},
		{User: "still there?", Bot: "yes"},
		{Bot: "system notice"},
	}, turns)
}

func TestProductIntent_QtyDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, domain.ProductIntent{}.Qty())
	assert.Equal(t, 3, domain.ProductIntent{Quantity: 3}.Qty())
}
