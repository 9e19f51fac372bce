// Package client holds the HTTP clients for outbound services: the image
// embedding service and the image downloader.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
)

var tracer = otel.Tracer("client")

// EmbeddingClient calls the image embedding service (POST /embed).
//
// An image URL is sent as the form field image_url; raw bytes are uploaded
// as the multipart field file. The service answers {"embedding": [...]}
// or {"error": "..."}.
type EmbeddingClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewEmbeddingClient creates a new EmbeddingClient.
func NewEmbeddingClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *EmbeddingClient {
	return &EmbeddingClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
		cfg:        cfg,
	}
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

// Embed returns the embedding vector of the image.
func (c *EmbeddingClient) Embed(ctx context.Context, img port.ImageInput) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "EmbeddingClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.Bool("image.by_url", img.URL != ""))

	if img.URL == "" && len(img.Data) == 0 {
		return nil, fmt.Errorf("embed: no image given")
	}

	return resilience.Call(ctx, c.cb, c.cfg, "embedding", func(ctx context.Context) ([]float32, error) {
		body, contentType, err := encodeImage(img)
		if err != nil {
			return nil, resilience.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", body)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("embedding API returned status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}

		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode embedding response: %w", err)
		}
		if len(out.Embedding) == 0 {
			msg := out.Error
			if msg == "" {
				msg = "no embedding in response"
			}
			return nil, resilience.Permanent(fmt.Errorf("embedding API: %s", msg))
		}
		return out.Embedding, nil
	})
}

// encodeImage builds the request body. A URL wins over raw bytes.
func encodeImage(img port.ImageInput) (*bytes.Buffer, string, error) {
	if img.URL != "" {
		form := url.Values{"image_url": {img.URL}}
		return bytes.NewBufferString(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image`+extensionFor(mime)+`"`)
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
