package service

import (
	"strings"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Response formatting
// ============================================================

// FormatImages attaches one picture per product the reply refers to.
// Names are matched against "name (properties)" first, then the bare
// name; the first non-empty avatar is used and duplicates are skipped.
func FormatImages(wantsImages bool, products []domain.Product, imageNames []string) []domain.ImageInfo {
	if !wantsImages || len(products) == 0 || len(imageNames) == 0 {
		return nil
	}

	byFullName := make(map[string]domain.Product, len(products))
	byName := make(map[string]domain.Product, len(products))
	for _, p := range products {
		full := strings.ToLower(strings.TrimSpace(p.ProductName + " (" + string(p.Properties) + ")"))
		if _, ok := byFullName[full]; !ok {
			byFullName[full] = p
		}
		name := strings.ToLower(strings.TrimSpace(p.ProductName))
		if _, ok := byName[name]; !ok {
			byName[name] = p
		}
	}

	var images []domain.ImageInfo
	seen := make(map[string]bool)
	for _, n := range imageNames {
		key := strings.ToLower(strings.TrimSpace(n))
		p, ok := byFullName[key]
		if !ok {
			p, ok = byName[key]
		}
		if !ok {
			continue
		}
		url := p.FirstImage()
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		images = append(images, domain.ImageInfo{
			ProductName: n,
			ImageURL:    url,
			ProductLink: p.LinkProduct,
		})
	}
	return images
}

// ActionFor returns a redirect to the product page when a general question
// (no purchase, no pending conversation step) resolved to exactly one
// product with a web link.
func ActionFor(isPurchase bool, state domain.ConversationState, products []domain.Product) *domain.ActionData {
	if isPurchase || state != domain.StateActive || len(products) != 1 {
		return nil
	}
	link := products[0].LinkProduct
	if !strings.HasPrefix(link, "http") {
		return nil
	}
	return &domain.ActionData{Action: "redirect", URL: link}
}

// StoreInfoReply renders the store block and the optional map picture.
func StoreInfoReply(r *Replies, info *domain.StoreInfo) (string, []domain.ImageInfo) {
	if info == nil || info.Empty() {
		return r.NoStoreInfo, nil
	}

	var parts []string
	if info.StoreName != "" {
		parts = append(parts, fill(r.StoreIntroNamed, "name", info.StoreName))
	} else {
		parts = append(parts, r.StoreIntro)
	}
	add := func(tpl, v string) {
		if v != "" {
			parts = append(parts, fill(tpl, "value", v))
		}
	}
	add(r.StoreAddress, info.StoreAddress)
	add(r.StorePhone, info.StorePhone)
	add(r.StoreWebsite, info.StoreWebsite)
	add(r.StoreFacebook, info.StoreFacebook)
	add(r.StoreMap, info.StoreAddressMap)

	var images []domain.ImageInfo
	if info.StoreImage != "" {
		caption := info.StoreName
		if caption == "" {
			caption = r.StoreImageCaption
		}
		images = append(images, domain.ImageInfo{ProductName: caption, ImageURL: info.StoreImage})
	}
	return strings.Join(parts, "\n"), images
}

// HistoryText flattens the last limit turns for prompts.
func HistoryText(turns []domain.Turn, limit int) string {
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	var b strings.Builder
	for _, t := range turns {
		if t.User != "" {
			b.WriteString("Khách: ")
			b.WriteString(t.User)
			b.WriteString("\n")
		}
		if t.Bot != "" {
			b.WriteString("Bot: ")
			b.WriteString(t.Bot)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// purchaseSummary renders the reply for a purchase negotiation pass.
func purchaseSummary(r *Replies, items []domain.PendingOrderItem) string {
	var confirmed, outOfStock, insufficient, notFound, suggested []domain.PendingOrderItem
	for _, it := range items {
		switch {
		case it.Status == domain.ItemConfirmed:
			confirmed = append(confirmed, it)
		case it.FailureReason == domain.FailureOutOfStock:
			outOfStock = append(outOfStock, it)
		case it.FailureReason == domain.FailureInsufficientStock:
			insufficient = append(insufficient, it)
		case it.Evaluation.IsClose():
			suggested = append(suggested, it)
		default:
			notFound = append(notFound, it)
		}
	}

	var parts []string
	if len(confirmed) > 0 {
		names := make([]string, 0, len(confirmed))
		for _, it := range confirmed {
			names = append(names, itoa(it.Intent.Qty())+" x "+it.MatchedProduct().DisplayName())
		}
		parts = append(parts, fill(r.ItemsConfirmed, "items", strings.Join(names, ", ")))
	}
	if len(outOfStock) > 0 {
		names := make([]string, 0, len(outOfStock))
		for _, it := range outOfStock {
			names = append(names, it.MatchedProduct().DisplayName())
		}
		parts = append(parts, fill(r.OutOfStock, "items", strings.Join(names, ", ")))
	}
	if len(insufficient) > 0 {
		msgs := make([]string, 0, len(insufficient))
		for _, it := range insufficient {
			p := it.MatchedProduct()
			msgs = append(msgs, fill(r.InsufficientStockItem, "name", p.DisplayName(), "stock", itoa(p.StockQuantity())))
		}
		parts = append(parts, fill(r.InsufficientStock, "items", strings.Join(msgs, "; ")))
	}
	if len(notFound) > 0 {
		parts = append(parts, fill(r.NotFound, "items", strings.Join(groupNotFound(r, notFound), "; ")))
	}
	if len(suggested) > 0 {
		lines := make([]string, 0, len(suggested))
		for _, it := range suggested {
			lines = append(lines, "  - "+it.MatchedProduct().DisplayName())
		}
		parts = append(parts, fill(r.CloseMatch, "items", strings.Join(lines, "\n")))
	}
	return strings.Join(parts, " ")
}

// groupNotFound lists unmatched intents by product name with their variants.
func groupNotFound(r *Replies, items []domain.PendingOrderItem) []string {
	var order []string
	variants := make(map[string][]string)
	for _, it := range items {
		name := it.Intent.ProductName
		if name == "" {
			name = r.NotFoundUnknown
		}
		if _, ok := variants[name]; !ok {
			order = append(order, name)
			variants[name] = nil
		}
		if props := strings.TrimSpace(it.Intent.Properties); props != "" {
			variants[name] = append(variants[name], props)
		}
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		if v := variants[name]; len(v) > 0 {
			out = append(out, fill(r.NotFoundVariants, "name", name, "variants", strings.Join(v, ", ")))
			continue
		}
		out = append(out, name)
	}
	return out
}

func missingFieldsReply(r *Replies, missing []domain.InfoField) string {
	labels := make([]string, 0, len(missing))
	for _, f := range missing {
		switch f {
		case domain.FieldName:
			labels = append(labels, r.FieldName)
		case domain.FieldPhone:
			labels = append(labels, r.FieldPhone)
		case domain.FieldAddress:
			labels = append(labels, r.FieldAddress)
		}
	}
	return fill(r.MissingInfo, "fields", strings.Join(labels, r.FieldJoiner))
}

func purchaseItemsText(items []domain.PurchaseItem) string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, itoa(it.Quantity)+" x "+it.ProductName)
	}
	return strings.Join(names, ", ")
}
