// Package downstream calls the generation service and decodes its stream.
//
// FILES:
//   - client.go: request building and the HTTP call
//   - stream.go: chunk decoding for SSE and raw byte streams
//   - signer.go: optional AWS SigV4 request signing
//   - tokens.go: token counting for completed streams
//
// DESIGN: Only a guardrail-approved payload and the scoped session key are
// sent. Open returns once response headers arrive; the caller decides when the
// attempt counts as a success (first chunk) for the circuit breaker. Closing
// the Stream or cancelling the context releases the connection.
package downstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/compresr/guard-gateway/internal/utils"
)

var tracer = otel.Tracer("guard-gateway/downstream")

// DefaultTimeout bounds a whole downstream call when no option overrides it.
const DefaultTimeout = 5 * time.Minute

// maxErrorBody caps how much of an error response is read for logging.
const maxErrorBody = 500

// StatusError is a non-2xx terminal response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream returned %d: %s", e.Status, e.Body)
}

// IsStatus reports whether err is a StatusError.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// Request is what the gateway forwards.
type Request struct {
	Payload    string
	SessionKey string
	RequestID  string
}

// Client calls the generation service.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	signer     *Signer
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the overall call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout > 0 {
			client.httpClient.Timeout = timeout
		}
	}
}

// WithSigner signs every request with SigV4.
func WithSigner(s *Signer) ClientOption {
	return func(client *Client) {
		client.signer = s
	}
}

// NewClient creates a client posting to url.
func NewClient(url, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the generation endpoint.
func (c *Client) URL() string { return c.url }

// BuildBody encodes the downstream request body.
func BuildBody(req Request) ([]byte, error) {
	body := []byte(`{"stream":true}`)
	var err error
	if body, err = sjson.SetBytes(body, "message", req.Payload); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "session_id", req.SessionKey); err != nil {
		return nil, err
	}
	return body, nil
}

// Open starts a streaming call. Any error before a 2xx response is returned
// here; the caller owns the returned Stream and must Close it.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "downstream.Open")
	defer span.End()

	body, err := BuildBody(req)
	if err != nil {
		return nil, fmt.Errorf("build body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	if c.signer != nil {
		if err := c.signer.SignRequest(ctx, httpReq, body); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	} else if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("downstream request failed: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		log.Error().
			Int("status", resp.StatusCode).
			Str("url", c.url).
			Str("response", string(errBody)).
			Msg("downstream error response")
		return nil, &StatusError{Status: resp.StatusCode, Body: string(errBody)}
	}

	log.Debug().
		Str("url", c.url).
		Str("session", utils.MaskKey(req.SessionKey)).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("downstream stream opened")

	return newStream(resp.Body, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")), nil
}
