package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/shopbot-core/internal/chat/port"
	"github.com/boddenberg/shopbot-core/internal/domain"
	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
)

var testCfg = resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}

func TestEmbeddingClient_SendsURLAsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://img.example/a.jpg", r.PostForm.Get("image_url"))
		_, _ = io.WriteString(w, `{"embedding":[0.1,0.2,0.3]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.Client(), srv.URL+"/", resilience.NewCircuitBreaker("embed-test"), testCfg)
	vec, err := c.Embed(context.Background(), port.ImageInput{URL: "https://img.example/a.jpg", Data: []byte("ignored")})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbeddingClient_UploadsBytesAsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pixels", string(data))
		assert.Equal(t, "image.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"embedding":[1]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("embed-test"), testCfg)
	vec, err := c.Embed(context.Background(), port.ImageInput{Data: []byte("pixels"), MIMEType: "image/jpeg"})

	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
}

func TestEmbeddingClient_ErrorPayloadIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"error":"bad image"}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("embed-test"), testCfg)
	_, err := c.Embed(context.Background(), port.ImageInput{Data: []byte("x")})

	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext))
	assert.Contains(t, err.Error(), "bad image")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbeddingClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"embedding":[0.5]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("embed-test"), testCfg)
	vec, err := c.Embed(context.Background(), port.ImageInput{URL: "https://img.example/a.jpg"})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestImageFetcher_SniffsMissingContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n" + "rest-of-image")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	f := NewImageFetcher(srv.Client(), resilience.NewCircuitBreaker("fetch-test"), testCfg)
	data, mime, err := f.Fetch(context.Background(), srv.URL+"/a.png")

	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, "image/png", mime)
}

func TestImageFetcher_KeepsHeaderType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp; charset=binary")
		_, _ = io.WriteString(w, "webp-bytes")
	}))
	defer srv.Close()

	f := NewImageFetcher(srv.Client(), resilience.NewCircuitBreaker("fetch-test"), testCfg)
	_, mime, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "image/webp", mime)
}

func TestImageFetcher_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewImageFetcher(srv.Client(), resilience.NewCircuitBreaker("fetch-test"), testCfg)
	_, _, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
