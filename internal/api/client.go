package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/collectdesk/convo/internal/debug"
)

const (
	DefaultTimeout = 30 * time.Second
)

// Client talks to the tenant backend: conversation snapshots, message sends,
// media uploads, catalogs and the suggestion stream.
//
// The circuit breaker tracks server failures for the lifetime of the client.
// Use ResetCircuitBreaker when reusing a client across tenant sessions.
type Client struct {
	BaseURL        string
	APIToken       string
	TenantID       string
	HTTP           *http.Client
	UserAgent      string
	RetryConfig    RetryConfig
	circuitBreaker *circuitBreaker
}

// New creates a client for one tenant.
func New(baseURL, token, tenantID string) *Client {
	baseTransport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		baseTransport = &http.Transport{}
	}
	transport := baseTransport.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12

	retryCfg := DefaultRetryConfig()
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		APIToken:    token,
		TenantID:    tenantID,
		RetryConfig: retryCfg,
		HTTP: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		circuitBreaker: &circuitBreaker{
			threshold: retryCfg.CircuitBreakerThreshold,
			resetTime: retryCfg.CircuitBreakerResetTime,
		},
	}
}

// ResetCircuitBreaker clears failure counts and closes the circuit.
func (c *Client) ResetCircuitBreaker() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.reset()
	}
}

// SetRetryConfig updates the retry configuration and aligns circuit breaker settings.
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.RetryConfig = cfg
	if c.circuitBreaker != nil {
		c.circuitBreaker.threshold = cfg.CircuitBreakerThreshold
		c.circuitBreaker.resetTime = cfg.CircuitBreakerResetTime
	}
}

// tenantPath returns the full URL for a tenant-scoped endpoint.
func (c *Client) tenantPath(path string) string {
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("%s/api/v1/tenants/%s%s", c.BaseURL, url.PathEscape(c.TenantID), path)
}

// do performs an HTTP request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, url string, body any, result any) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	respBody, err := c.execute(ctx, method, url, jsonBody, "application/json")
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
	}
	return nil
}

// execute runs a request with rate-limit and 5xx retries. Only GET and HEAD
// are retried; a POST that fails is reported to the caller as-is.
func (c *Client) execute(ctx context.Context, method, url string, body []byte, contentType string) ([]byte, error) {
	if c.circuitBreaker != nil && c.circuitBreaker.isOpen() {
		return nil, &CircuitBreakerError{}
	}

	retryable := method == http.MethodGet || method == http.MethodHead
	var retries429, retries5xx int
	attempt := 0

	for {
		attempt++
		start := time.Now()
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req, contentType, "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if debug.IsEnabled(ctx) {
				slog.Debug("request failed", "method", method, "url", url, "attempt", attempt, "error", err)
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if debug.IsEnabled(ctx) {
			slog.Debug("request complete", "method", method, "url", url, "status", resp.StatusCode, "attempt", attempt, "duration", time.Since(start))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, hasRetryAfter := retryAfterDuration(resp.Header)
			if !hasRetryAfter {
				retryAfter = c.RetryConfig.RateLimitBaseDelay * time.Duration(1<<retries429)
			}
			if !retryable || retries429 >= c.RetryConfig.MaxRateLimitRetries {
				return nil, &RateLimitError{RetryAfter: retryAfter}
			}
			slog.Info("rate limited, retrying", "delay", retryAfter, "attempt", retries429+1)
			if err := sleepWithContext(ctx, retryAfter); err != nil {
				return nil, err
			}
			retries429++
			continue
		}

		if resp.StatusCode >= 500 {
			if c.circuitBreaker != nil {
				c.circuitBreaker.recordFailure()
			}
			if retryable && retries5xx < c.RetryConfig.Max5xxRetries {
				slog.Info("server error, retrying", "status", resp.StatusCode)
				if err := sleepWithContext(ctx, c.RetryConfig.ServerErrorRetryDelay); err != nil {
					return nil, err
				}
				retries5xx++
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &AuthError{Reason: sanitizeErrorBody(string(respBody))}
		}
		if resp.StatusCode >= 400 {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Body:       sanitizeErrorBody(string(respBody)),
				RequestID:  requestIDFromHeader(resp.Header),
			}
		}

		if c.circuitBreaker != nil {
			c.circuitBreaker.recordSuccess()
		}
		return respBody, nil
	}
}

func (c *Client) setHeaders(req *http.Request, contentType, accept string) {
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", accept)
}

// postMultipart uploads a single file part plus form fields.
func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, filename, mimeType string, content []byte, result any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := writer.WriteField(key, fields[key]); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create form file %s: %w", filename, err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to write file content %s: %w", filename, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	respBody, err := c.execute(ctx, http.MethodPost, c.tenantPath(path), body.Bytes(), writer.FormDataContentType())
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unexpected API response format (JSON decode failed): %w", err)
		}
	}
	return nil
}

func requestIDFromHeader(header http.Header) string {
	if header == nil {
		return ""
	}
	return header.Get("X-Request-Id")
}

// sanitizeErrorBody extracts a human-readable reason from an error response
// without echoing arbitrary payloads back to the operator.
func sanitizeErrorBody(body string) string {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &errResp); err != nil {
		return "API request failed (response body redacted for security)"
	}
	for _, s := range []string{errResp.Error, errResp.Message, errResp.Reason} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return "API request failed (response body redacted for security)"
}
