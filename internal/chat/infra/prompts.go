package infra

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
)

// ============================================================
// Prompts
// ============================================================
//
// Every structured call asks for a single JSON object and runs with the
// JSON response MIME type; the decoders in parse.go still tolerate fenced
// or chatty output.

const systemPersona = "Bạn là nhân viên tư vấn bán hàng online của cửa hàng, xưng \"em\", gọi khách là \"anh/chị\", trả lời ngắn gọn, lịch sự bằng tiếng Việt."

func intentPrompt(message string, history []domain.Turn) string {
	var b strings.Builder
	b.WriteString("Phân tích tin nhắn mới nhất của khách trong bối cảnh lịch sử hội thoại.\n")
	writeHistory(&b, history)
	fmt.Fprintf(&b, "Tin nhắn mới: %q\n\n", message)
	b.WriteString(`Trả về đúng một đối tượng JSON:
{
  "needs_search": bool,            // khách hỏi về sản phẩm cần tra cứu kho
  "is_purchase_intent": bool,      // khách muốn đặt mua
  "is_add_to_order_intent": bool,  // khách muốn thêm sản phẩm vào đơn đã đặt
  "wants_human_agent": bool,       // khách muốn gặp nhân viên
  "wants_store_info": bool,        // hỏi địa chỉ, số điện thoại, website cửa hàng
  "wants_warranty_service": bool,  // hỏi bảo hành, sửa chữa
  "is_negative": bool,             // khách bực bội, phàn nàn
  "is_bank_transfer": bool,        // hỏi chuyển khoản, gửi biên lai
  "wants_images": bool,            // muốn xem ảnh
  "wants_specs": bool,             // muốn thông số kỹ thuật
  "search_params": {"products": [{"product_name": "", "category": "", "properties": "", "quantity": 1}]}
}
Chỉ điền sản phẩm khách thực sự nhắc tới; dùng lịch sử để hiểu các đại từ như "cái đó".`)
	return b.String()
}

func extractInfoPrompt(text string) string {
	return fmt.Sprintf(`Trích xuất thông tin liên hệ của khách từ đoạn tin nhắn sau: %q
Trả về JSON {"name": "", "phone": "", "address": ""}. Trường nào không có thì để chuỗi rỗng, không tự bịa.`, text)
}

func matchPrompt(query, history string, products []domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Yêu cầu của khách: %q\n", query)
	if history != "" {
		fmt.Fprintf(&b, "Lịch sử gần đây:\n%s\n", history)
	}
	b.WriteString("Danh sách sản phẩm tìm được:\n")
	writeProducts(&b, products)
	b.WriteString(`
Chọn sản phẩm khớp nhất với yêu cầu. Trả về JSON:
{"type": "PERFECT_MATCH" | "CLOSE_MATCH" | "NO_MATCH", "product_index": số thứ tự (bắt đầu từ 1, 0 nếu không có), "score": 0..1, "reason": ""}
PERFECT_MATCH khi đúng tên và đúng loại/phân loại; CLOSE_MATCH khi gần giống nhưng khác phân loại; NO_MATCH khi không có sản phẩm phù hợp.`)
	return b.String()
}

func filterPrompt(query, history string, products []domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Yêu cầu của khách: %q\n", query)
	if history != "" {
		fmt.Fprintf(&b, "Lịch sử gần đây:\n%s\n", history)
	}
	b.WriteString("Danh sách sản phẩm:\n")
	writeProducts(&b, products)
	b.WriteString(`
Giữ lại các sản phẩm thực sự liên quan tới yêu cầu. Trả về JSON {"relevant_indices": [số thứ tự bắt đầu từ 1]}.`)
	return b.String()
}

func confirmationPrompt(message, history string) string {
	return fmt.Sprintf(`Bot vừa hỏi khách có muốn chốt đơn hay không.
Lịch sử gần đây:
%s
Câu trả lời của khách: %q
Trả về JSON {"decision": "CONFIRM" | "CANCEL" | "UNCLEAR"}.`, history, message)
}

func showMorePrompt(message, history string) string {
	return fmt.Sprintf(`Lịch sử gần đây:
%s
Tin nhắn mới: %q
Khách muốn xem thêm sản phẩm khác (MORE), hỏi còn hàng hay không (STOCK), hay nói chuyện khác (OTHER)?
Trả về JSON {"intent": "MORE" | "STOCK" | "OTHER"}.`, history, message)
}

const describeImagePrompt = "Hãy mô tả ngắn gọn nội dung và mục đích của hình ảnh này bằng tiếng Việt. Tập trung vào việc xác định xem nó là sản phẩm, hóa đơn, biên lai chuyển khoản, hay một đoạn chat. Chỉ trả về nội dung mô tả, không thêm lời chào."

func replyPrompt(req replyInput) string {
	var b strings.Builder
	writeHistory(&b, req.History)
	fmt.Fprintf(&b, "Khách hỏi: %q\n\n", req.Query)

	switch {
	case req.IsImageSearch && len(req.Products) > 0:
		b.WriteString("Khách gửi ảnh, hệ thống đã nhận ra sản phẩm sau:\n")
		writeProducts(&b, req.Products)
	case len(req.Products) > 0:
		b.WriteString("Sản phẩm tìm được trong kho:\n")
		writeProducts(&b, req.Products)
	case req.NeedsSearch:
		b.WriteString("Không tìm thấy sản phẩm phù hợp trong kho. Hãy xin lỗi và gợi ý khách mô tả rõ hơn.\n")
	}
	if req.WantsSpecs {
		b.WriteString("Khách muốn biết thông số kỹ thuật, hãy nêu đủ thông số quan trọng.\n")
	}
	b.WriteString(`
Chỉ dùng thông tin sản phẩm ở trên, không bịa giá hay tồn kho.
Trả về JSON {"answer": "câu trả lời cho khách", "product_images": ["tên sản phẩm (phân loại)" của các sản phẩm được nhắc tới]}.`)
	return b.String()
}

// replyInput is the part of port.ReplyRequest the prompt reads.
type replyInput struct {
	Query         string
	Products      []domain.Product
	History       []domain.Turn
	NeedsSearch   bool
	WantsSpecs    bool
	IsImageSearch bool
}

func writeHistory(b *strings.Builder, history []domain.Turn) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Lịch sử hội thoại:\n")
	for _, t := range history {
		if t.User != "" {
			fmt.Fprintf(b, "Khách: %s\n", t.User)
		}
		if t.Bot != "" {
			fmt.Fprintf(b, "Bot: %s\n", t.Bot)
		}
	}
	b.WriteString("\n")
}

// promptProduct is the product view shown to the model.
type promptProduct struct {
	Index          int    `json:"index"`
	Name           string `json:"product_name"`
	Category       string `json:"category,omitempty"`
	Properties     string `json:"properties,omitempty"`
	Specifications string `json:"specifications,omitempty"`
	Price          string `json:"price,omitempty"`
	Inventory      int    `json:"inventory"`
}

func writeProducts(b *strings.Builder, products []domain.Product) {
	for i, p := range products {
		line, _ := json.Marshal(promptProduct{
			Index:          i + 1,
			Name:           p.ProductName,
			Category:       p.Category,
			Properties:     p.CleanProperties(),
			Specifications: p.Specifications,
			Price:          string(p.Price),
			Inventory:      p.StockQuantity(),
		})
		b.Write(line)
		b.WriteString("\n")
	}
}
