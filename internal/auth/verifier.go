package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/guard-gateway/internal/oracle"
)

// StaticVerifier maps fixed tokens to identities. Intended for local runs and tests.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier copies the token -> identity table.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	copied := make(map[string]string, len(tokens))
	for token, identity := range tokens {
		copied[token] = identity
	}
	return &StaticVerifier{tokens: copied}
}

// Verify compares the assertion against every configured token in constant time.
func (v *StaticVerifier) Verify(_ context.Context, assertion string) (string, error) {
	var found string
	for token, identity := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(assertion)) == 1 {
			found = identity
		}
	}
	if found == "" {
		return "", ErrInvalidAssertion
	}
	return found, nil
}

// HTTPVerifier asks a remote identity oracle.
//
// Request:  POST {base}/verify {"token": "..."}
// Response: {"valid": true, "identity": "user@example.com"}
//
//	{"valid": false, "reason": "expired"}
//
// A 401 or 403 from the oracle rejects the assertion; other failures are outages.
type HTTPVerifier struct {
	client *oracle.Client
}

// NewHTTPVerifier wraps an oracle client.
func NewHTTPVerifier(client *oracle.Client) *HTTPVerifier {
	return &HTTPVerifier{client: client}
}

// Verify returns the identity asserted by the oracle.
func (v *HTTPVerifier) Verify(ctx context.Context, assertion string) (string, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "token", assertion)
	if err != nil {
		return "", fmt.Errorf("building verify request: %w", err)
	}

	body, err := v.client.Post(ctx, "/verify", payload)
	if err != nil {
		var oe *oracle.Error
		if errors.As(err, &oe) && (oe.Status == http.StatusUnauthorized || oe.Status == http.StatusForbidden) {
			return "", fmt.Errorf("%w: identity oracle answered %d", ErrInvalidAssertion, oe.Status)
		}
		return "", oracle.Unavailable(oracle.Identity, err)
	}
	if !gjson.ValidBytes(body) {
		return "", oracle.Unavailable(oracle.Identity, fmt.Errorf("malformed verify response"))
	}

	result := gjson.GetManyBytes(body, "valid", "identity", "reason")
	if !result[0].Bool() {
		reason := result[2].String()
		if reason == "" {
			reason = "rejected"
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidAssertion, reason)
	}
	return result[1].String(), nil
}
