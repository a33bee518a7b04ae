package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenSuggestionStream starts a streamed reply suggestion and returns the
// response body. The caller reads it to the end or cancels ctx; either way it
// must close the body. The stream is not subject to the client timeout.
func (c *Client) OpenSuggestionStream(ctx context.Context, req SuggestionRequest) (io.ReadCloser, error) {
	if c.circuitBreaker != nil && c.circuitBreaker.isOpen() {
		return nil, &CircuitBreakerError{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tenantPath("/suggestions/stream"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, "application/json", "text/event-stream")

	streaming := &http.Client{Transport: c.HTTP.Transport}
	resp, err := streaming.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= 500 && c.circuitBreaker != nil {
			c.circuitBreaker.recordFailure()
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := retryAfterDuration(resp.Header)
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &AuthError{Reason: sanitizeErrorBody(string(errBody))}
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       sanitizeErrorBody(string(errBody)),
			RequestID:  requestIDFromHeader(resp.Header),
		}
	}
	return resp.Body, nil
}
