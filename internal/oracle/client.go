// Package oracle provides the HTTP client shared by all external oracles.
//
// FILES:
//   - client.go: JSON-over-HTTP client and helpers
//   - errors.go: oracle failure type and oracle names
//
// DESIGN: Identity, entitlement, redaction and classification services are
// single-call oracles with a fixed request/response shape. Any transport error,
// non-200 status or unreadable body is reported as *Error so callers can apply
// their failure policy. Response bodies are returned raw for gjson parsing.
package oracle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single oracle call when no option overrides it.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes caps an oracle response body.
const maxResponseBytes = 1 << 20

// Client is a JSON-over-HTTP oracle client.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout > 0 {
			client.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a client for the named oracle.
func NewClient(name, baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the oracle name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the oracle base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET and returns the 200 response body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.do(req)
}

// Post issues a POST with a JSON payload and returns the 200 response body.
func (c *Client) Post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	return c.PostWithHeaders(ctx, path, payload, nil)
}

// PostWithHeaders is Post with extra request headers.
func (c *Client) PostWithHeaders(ctx context.Context, path string, payload []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "guard-gateway/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Oracle: c.name, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Oracle: c.name, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(body[:min(200, len(body))])
		return nil, &Error{Oracle: c.name, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", snippet)}
	}

	return body, nil
}
