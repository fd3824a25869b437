// Package ocr is the HTTP client for the external OCR engine.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"claims_server/core/port/out"
	"claims_server/pkg/httputil"
)

// =============================================================================
// OCR Client
// =============================================================================

// Config holds OCR client configuration.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client implements out.OCREngine over the engine's recognize endpoint. The
// engine structures fields itself; the client only moves bytes and decodes
// the response.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates the OCR client with the long-recognition HTTP profile.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: httputil.NewOptimizedClient(httputil.OCRClientConfig()),
	}
}

// Recognize sends the attachment bytes and returns the engine's structured
// result. Any failure is returned as-is; callers treat a failed OCR side as
// absent, not as a job failure.
func (c *Client) Recognize(ctx context.Context, attachment []byte) (*out.OCRResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/recognize", bytes.NewReader(attachment))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("ocr response read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr engine status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result out.OCRResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ocr response decode: %w", err)
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Ensure Client implements out.OCREngine
var _ out.OCREngine = (*Client)(nil)
