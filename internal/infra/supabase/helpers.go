package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/boddenberg/shopbot-core/internal/infra/resilience"
)

// ============================================================
// HTTP helpers for GET, POST, PATCH, DELETE
// ============================================================

const (
	preferRepresentation = "return=representation"
	preferUpsert         = "resolution=merge-duplicates,return=representation"
)

// doRequest executes an authenticated request against PostgREST. A 4xx
// answer is marked permanent so the retry loop gives up on it.
func (c *Client) doRequest(ctx context.Context, method, path string, data any, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("encode %s body: %w", tableOf(path), err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("table", tableOf(path)),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("table", tableOf(path)),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)),
		)
		err := fmt.Errorf("supabase %s %s returned %d: %s", method, tableOf(path), resp.StatusCode, string(respBody))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("table", tableOf(path)),
		zap.Int("status", resp.StatusCode),
	)
	return respBody, nil
}

// write runs a mutating request through the breaker with retries.
func (c *Client) write(ctx context.Context, method, path string, data any, prefer string) ([]byte, error) {
	return resilience.Call(ctx, c.cb, c.cfg, "supabase", func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, method, path, data, prefer)
	})
}

func (c *Client) doPost(ctx context.Context, path string, data any) ([]byte, error) {
	return c.write(ctx, http.MethodPost, path, data, preferRepresentation)
}

func (c *Client) doUpsert(ctx context.Context, path string, data any) ([]byte, error) {
	return c.write(ctx, http.MethodPost, path, data, preferUpsert)
}

func (c *Client) doPatch(ctx context.Context, path string, data any) ([]byte, error) {
	return c.write(ctx, http.MethodPatch, path, data, preferRepresentation)
}

// doDelete deletes the matching rows and returns how many were removed.
func (c *Client) doDelete(ctx context.Context, path string) (int, error) {
	body, err := c.write(ctx, http.MethodDelete, path, nil, preferRepresentation)
	if err != nil {
		return 0, err
	}
	if len(body) == 0 {
		return 0, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode deleted %s rows: %w", tableOf(path), err)
	}
	return len(rows), nil
}

// firstRow decodes the first row of a representation body into dst.
// It reports false when the body holds no rows.
func firstRow(body []byte, dst any) (bool, error) {
	if len(body) == 0 {
		return false, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(rows[0], dst)
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
