package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/chat/domain"
	"github.com/boddenberg/shopbot-core/internal/chat/port"
)

// intakeImage resolves an attached image. A catalog hit by embedding
// similarity is answered directly. Otherwise the vision description
// replaces the message and processing continues (nil Outcome).
func (s *ChatService) intakeImage(ctx context.Context, t *Turn, req domain.ChatRequest, logger *zap.Logger) *Outcome {
	r := s.Replies
	ctx, span := tracer.Start(ctx, "ChatService.IntakeImage")
	defer span.End()

	img, err := s.loadImage(ctx, req)
	if err != nil {
		span.RecordError(err)
		logger.Warn("image could not be loaded", zap.Error(err))
		out := Outcome{Reply: r.ImageApology, Data: t.Data}
		return &out
	}

	vector, err := s.embed(ctx, img)
	if err != nil {
		span.RecordError(err)
		logger.Warn("image embedding failed", zap.Error(err))
		out := Outcome{Reply: r.ImageApology, Data: t.Data}
		return &out
	}

	hits, err := s.searchImage(ctx, t.TenantID, vector)
	if err != nil {
		logger.Warn("image search failed, falling back to vision", zap.Error(err))
	}

	if len(hits) > 0 {
		if t.Message == "" {
			t.Message = r.ImageQuestion
			t.LogText = r.ImageQuestion
		}
		rep, err := s.generate(ctx, t, hits, true, true)
		if err != nil {
			logger.Warn("image search reply failed", zap.Error(err))
			out := apology(r, t.Data)
			return &out
		}
		out := reply(rep.Text, t.Data)
		out.Products = hits
		return &out
	}

	description := s.describe(ctx, t, img, logger)
	if description == "" {
		out := reply(r.ImageUnrecognized, t.Data)
		return &out
	}
	t.Message = description
	t.LogText = description
	return nil
}

// loadImage downloads the image URL or decodes the inline payload, which
// may carry a data URL prefix.
func (s *ChatService) loadImage(ctx context.Context, req domain.ChatRequest) (port.ImageInput, error) {
	if req.ImageURL != "" {
		ctx, cancel := withTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()
		data, mime, err := s.Fetcher.Fetch(ctx, req.ImageURL)
		if err != nil {
			s.metrics.IncrExternalError("image_fetch")
			return port.ImageInput{}, fmt.Errorf("fetch image: %w", err)
		}
		return port.ImageInput{URL: req.ImageURL, Data: data, MIMEType: mime}, nil
	}

	payload := req.ImageBase64
	if i := strings.Index(payload, ";base64,"); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return port.ImageInput{}, fmt.Errorf("decode inline image: %w", err)
	}
	return port.ImageInput{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func (s *ChatService) embed(ctx context.Context, img port.ImageInput) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	vector, err := s.Embedder.Embed(ctx, img)
	s.metrics.RecordExternalCall("embedding", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("embedding")
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return vector, nil
}

func (s *ChatService) searchImage(ctx context.Context, tenantID string, vector []float32) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	hits, err := s.ImageSearch.SearchByImageEmbedding(ctx, tenantID, vector, s.cfg.ImageTopK, s.cfg.ImageMinSimilarity)
	s.metrics.RecordExternalCall("image_search", time.Since(start))
	if err != nil {
		s.metrics.IncrExternalError("image_search")
		return nil, err
	}
	return hits, nil
}

// describe returns "" when the model fails or sees nothing.
func (s *ChatService) describe(ctx context.Context, t *Turn, img port.ImageInput, logger *zap.Logger) string {
	ctx, cancel := withTimeout(ctx, s.cfg.AITimeout)
	defer cancel()

	text, err := s.AI.DescribeImage(ctx, img, t.Creds)
	if err != nil {
		s.metrics.IncrExternalError("ai")
		logger.Warn("image description failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}
