// Package outbound implements target-dialect transports behind the
// gateway.Outbound interface.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orbgate/orbgate/internal/gateway"
)

// HTTPClient posts structured requests to a grpc-gateway style JSON
// endpoint: POST {base}/{operation} with a JSON object body, a JSON object
// back. Errors arrive as {"code": "...", "message": "..."}.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

// NewHTTP builds a client for the given base URL. The http.Client carries
// no timeout of its own; deadlines come from the per-call context.
func NewHTTP(base, apiKey string) *HTTPClient {
	return &HTTPClient{BaseURL: base, APIKey: apiKey, httpClient: &http.Client{}}
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Invoke implements gateway.Outbound.
func (c *HTTPClient) Invoke(ctx context.Context, operation string, request map[string]any) (map[string]any, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("outbound: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+operation, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Let the gateway classify timeouts and cancellations; the
		// net/http error already wraps the context error.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &gateway.DownstreamError{Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &gateway.DownstreamError{Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var we wireError
		if json.Unmarshal(body, &we) == nil && we.Message != "" {
			if we.Code == "" {
				we.Code = http.StatusText(resp.StatusCode)
			}
			return nil, &gateway.DownstreamError{Code: we.Code, Message: we.Message}
		}
		return nil, &gateway.DownstreamError{
			Code:    http.StatusText(resp.StatusCode),
			Message: fmt.Sprintf("target answered %d", resp.StatusCode),
		}
	}
	// A 204 or an empty 2xx body is a legal encoding of the empty message.
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &gateway.DownstreamError{Message: "target answered with a non-object body"}
	}
	return out, nil
}

// Probe checks the target endpoint is reachable; used at startup so a
// misconfigured base URL surfaces before traffic arrives.
func (c *HTTPClient) Probe(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("outbound: probe %s: %w", c.BaseURL, err)
	}
	_ = resp.Body.Close()
	return nil
}
