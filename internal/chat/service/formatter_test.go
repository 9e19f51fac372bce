package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

func TestFormatImages(t *testing.T) {
	red := product("Áo", "Đỏ", 1)
	blue := product("Áo", "Xanh", 1)
	blue.AvatarImages = []string{"", "https://img.example/blue.jpg"}
	bare := product("Quần", "", 1)

	images := FormatImages(true, []domain.Product{red, blue, bare}, []string{"áo (xanh)", "Quần", "Áo (Đỏ)", "áo (đỏ)", "Mũ"})

	require.Len(t, images, 3)
	assert.Equal(t, "https://img.example/blue.jpg", images[0].ImageURL)
	assert.Equal(t, bare.FirstImage(), images[1].ImageURL)
	assert.Equal(t, red.FirstImage(), images[2].ImageURL)
	assert.Equal(t, red.LinkProduct, images[2].ProductLink)
}

func TestFormatImages_NotWanted(t *testing.T) {
	assert.Nil(t, FormatImages(false, []domain.Product{product("Áo", "", 1)}, []string{"Áo"}))
	assert.Nil(t, FormatImages(true, nil, []string{"Áo"}))
}

func TestActionFor(t *testing.T) {
	one := []domain.Product{product("Áo", "", 1)}
	noLink := []domain.Product{{ProductName: "Áo", LinkProduct: "/relative"}}

	assert.Equal(t, &domain.ActionData{Action: "redirect", URL: one[0].LinkProduct}, ActionFor(false, domain.StateActive, one))
	assert.Nil(t, ActionFor(true, domain.StateActive, one))
	assert.Nil(t, ActionFor(false, domain.StateAwaitingCustomerInfo, one))
	assert.Nil(t, ActionFor(false, domain.StateActive, append(one, one...)))
	assert.Nil(t, ActionFor(false, domain.StateActive, noLink))
}

func TestStoreInfoReply(t *testing.T) {
	r := DefaultReplies()

	text, images := StoreInfoReply(r, nil)
	assert.Equal(t, r.NoStoreInfo, text)
	assert.Nil(t, images)

	text, images = StoreInfoReply(r, &domain.StoreInfo{StoreAddress: "8 Thái Hà", StorePhone: "0243", StoreImage: "https://img.example/map.png"})
	assert.Equal(t, r.StoreIntro+"\n👉 8 Thái Hà.\n👉 SĐT: 0243", text)
	require.Len(t, images, 1)
	assert.Equal(t, r.StoreImageCaption, images[0].ProductName)
}

func TestHistoryText(t *testing.T) {
	turns := []domain.Turn{{User: "a", Bot: "b"}, {User: "c"}, {Bot: "d"}}

	assert.Equal(t, "Khách: a\nBot: b\nKhách: c\nBot: d", HistoryText(turns, 0))
	assert.Equal(t, "Khách: c\nBot: d", HistoryText(turns, 2))
}

func TestPurchaseSummary(t *testing.T) {
	r := DefaultReplies()
	ok := confirmedItem(product("Áo", "Đỏ", 5), 2)
	gone := confirmedItem(product("Mũ", "", 0), 1)
	gone.Status, gone.FailureReason = domain.ItemFailed, domain.FailureOutOfStock
	suggestion := product("Quần", "Xanh", 2)
	closeItem := domain.PendingOrderItem{
		Intent:     domain.ProductIntent{ProductName: "quần"},
		Status:     domain.ItemFailed,
		Evaluation: &domain.MatchResult{Type: domain.CloseMatch, Product: &suggestion},
	}
	missingA := domain.PendingOrderItem{Intent: domain.ProductIntent{ProductName: "giày", Properties: "38"}, Status: domain.ItemFailed}
	missingB := domain.PendingOrderItem{Intent: domain.ProductIntent{ProductName: "giày", Properties: "39"}, Status: domain.ItemFailed}

	got := purchaseSummary(r, []domain.PendingOrderItem{ok, gone, closeItem, missingA, missingB})

	assert.Contains(t, got, "2 x Áo (đỏ)")
	assert.Contains(t, got, "hết hàng rồi ạ: Mũ.")
	assert.Contains(t, got, "giày (các loại: 38, 39)")
	assert.Contains(t, got, "  - Quần (xanh)")
}

func TestMissingFieldsReply(t *testing.T) {
	r := DefaultReplies()
	got := missingFieldsReply(r, []domain.InfoField{domain.FieldName, domain.FieldAddress})
	assert.Equal(t, "Dạ, anh/chị vui lòng cho em xin tên và địa chỉ để em lên đơn ạ.", got)
}
