package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
)

// MaxImageBytes caps a downloaded image.
const MaxImageBytes = 10 << 20

// ImageFetcher downloads customer images with retry and circuit breaker.
type ImageFetcher struct {
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewImageFetcher creates a new ImageFetcher.
func NewImageFetcher(httpClient *http.Client, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ImageFetcher {
	return &ImageFetcher{httpClient: httpClient, cb: cb, cfg: cfg}
}

type fetched struct {
	data []byte
	mime string
}

// Fetch returns the image bytes and their MIME type. The type comes from
// the response header, or is sniffed when the header is missing or generic.
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, span := tracer.Start(ctx, "ImageFetcher.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("image.url", imageURL))

	res, err := resilience.Call(ctx, f.cb, f.cfg, "image_fetch", func(ctx context.Context) (fetched, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return fetched{}, resilience.Permanent(err)
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fetched{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("image host returned status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return fetched{}, resilience.Permanent(err)
			}
			return fetched{}, err
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
		if err != nil {
			return fetched{}, err
		}
		if len(data) > MaxImageBytes {
			return fetched{}, resilience.Permanent(fmt.Errorf("image larger than %d bytes", MaxImageBytes))
		}
		if len(data) == 0 {
			return fetched{}, resilience.Permanent(fmt.Errorf("empty image"))
		}

		mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
		if mime == "" || mime == "application/octet-stream" {
			mime = http.DetectContentType(data)
		}
		return fetched{data: data, mime: mime}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return res.data, res.mime, nil
}
