// Package auth implements the identity and entitlement guard.
//
// DESIGN: Two external oracles decide access:
//   - IdentityVerifier:   opaque assertion -> server-asserted identity (401 on failure)
//   - EntitlementChecker: identity -> entitled flag (403 when false)
//
// FILES:
//   - guard.go:       Authorize() and AuthorizedIdentity
//   - verifier.go:    static and HTTP identity verifiers
//   - entitlement.go: static and HTTP entitlement checkers, TTL cache
//   - session_key.go: scoped session key derivation
//   - setup.go:       construction from config
package auth

import (
	"errors"

	"github.com/compresr/guard-gateway/internal/auth/types"
)

// Re-export types for convenience
type (
	IdentityVerifier   = types.IdentityVerifier
	EntitlementChecker = types.EntitlementChecker
	VerifierFunc       = types.VerifierFunc
	EntitlementFunc    = types.EntitlementFunc
)

// Re-export constants
const (
	HeaderAuthorization = types.HeaderAuthorization
	HeaderIdentityToken = types.HeaderIdentityToken
	QueryIdentityToken  = types.QueryIdentityToken
)

// Re-export functions
var (
	BearerToken          = types.BearerToken
	AssertionFromRequest = types.AssertionFromRequest
)

var (
	// ErrUnauthenticated means the assertion is missing, malformed or rejected.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the identity is valid but not entitled.
	ErrForbidden = errors.New("forbidden: active entitlement required")

	// ErrInvalidAssertion is returned by verifiers that reject an assertion.
	ErrInvalidAssertion = errors.New("invalid identity assertion")
)
