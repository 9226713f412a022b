// Package types defines the identity and entitlement oracle contracts.
package types

import (
	"context"
	"net/http"
	"strings"
)

// =============================================================================
// ORACLE INTERFACES
// =============================================================================

// IdentityVerifier validates an opaque identity assertion.
type IdentityVerifier interface {
	// Verify returns the server-asserted identity for a valid assertion.
	// Returns ErrInvalidAssertion (wrapped) when the oracle rejects the assertion,
	// and an oracle error when the oracle cannot answer.
	Verify(ctx context.Context, assertion string) (string, error)
}

// EntitlementChecker answers whether an identity may use the chat function.
type EntitlementChecker interface {
	// IsEntitled returns an oracle error when the lookup cannot be answered.
	IsEntitled(ctx context.Context, identity string) (bool, error)
}

// VerifierFunc adapts a function to IdentityVerifier.
type VerifierFunc func(ctx context.Context, assertion string) (string, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, assertion string) (string, error) {
	return f(ctx, assertion)
}

// EntitlementFunc adapts a function to EntitlementChecker.
type EntitlementFunc func(ctx context.Context, identity string) (bool, error)

// IsEntitled calls f.
func (f EntitlementFunc) IsEntitled(ctx context.Context, identity string) (bool, error) {
	return f(ctx, identity)
}

// =============================================================================
// HEADER CONSTANTS
// =============================================================================

const (
	// HeaderAuthorization is the standard Authorization header.
	HeaderAuthorization = "Authorization"

	// HeaderIdentityToken carries the identity assertion for clients that
	// cannot set Authorization (e.g. some WebSocket clients).
	HeaderIdentityToken = "X-Identity-Token"

	// QueryIdentityToken is the WebSocket handshake fallback.
	QueryIdentityToken = "token"
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// BearerToken extracts the bearer token value from an Authorization header.
// Input: "Bearer abc..." -> Output: "abc..."
// Input: "abc..." -> Output: "abc..." (pass-through if no Bearer prefix)
func BearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) >= len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}

	return authHeader
}

// AssertionFromRequest returns the identity assertion carried by r, or "".
func AssertionFromRequest(r *http.Request) string {
	if token := BearerToken(r.Header.Get(HeaderAuthorization)); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.Header.Get(HeaderIdentityToken)); token != "" {
		return token
	}
	return ""
}
