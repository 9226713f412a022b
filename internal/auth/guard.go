package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/compresr/guard-gateway/internal/oracle"
)

// MaxAssertionLength rejects oversized assertions before any oracle call.
const MaxAssertionLength = 8192

var tracer = otel.Tracer("guard-gateway/auth")

// AuthorizedIdentity is the server-asserted owner of a request.
// It is the only source of truth for session ownership.
type AuthorizedIdentity struct {
	Subject      string
	AuthorizedAt time.Time
}

// SessionKey scopes a client-chosen conversation id to this identity.
func (a AuthorizedIdentity) SessionKey(conversationID string) SessionKey {
	return DeriveSessionKey(a.Subject, conversationID)
}

// Guard checks identity then entitlement. It never mutates session state.
type Guard struct {
	verifier     IdentityVerifier
	entitlements EntitlementChecker
}

// NewGuard creates a guard over the two oracles.
func NewGuard(verifier IdentityVerifier, entitlements EntitlementChecker) *Guard {
	return &Guard{verifier: verifier, entitlements: entitlements}
}

// Authorize validates the assertion and the identity's entitlement.
//
// Errors:
//   - ErrUnauthenticated (wrapped): missing, malformed or rejected assertion
//   - ErrForbidden: valid identity without entitlement
//   - *oracle.Error: an oracle could not answer
func (g *Guard) Authorize(ctx context.Context, assertion string) (AuthorizedIdentity, error) {
	ctx, span := tracer.Start(ctx, "auth.authorize")
	defer span.End()

	if err := checkAssertionShape(assertion); err != nil {
		span.SetStatus(codes.Error, "malformed assertion")
		return AuthorizedIdentity{}, err
	}

	subject, err := g.verifier.Verify(ctx, assertion)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		if _, ok := oracle.Which(err); ok {
			return AuthorizedIdentity{}, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return AuthorizedIdentity{}, err
		}
		return AuthorizedIdentity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		span.SetStatus(codes.Error, "empty identity")
		return AuthorizedIdentity{}, fmt.Errorf("%w: assertion carries no identity", ErrUnauthenticated)
	}

	entitled, err := g.entitlements.IsEntitled(ctx, subject)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entitlement lookup failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return AuthorizedIdentity{}, err
		}
		return AuthorizedIdentity{}, oracle.Unavailable(oracle.Entitlement, err)
	}
	span.SetAttributes(attribute.Bool("auth.entitled", entitled))
	if !entitled {
		return AuthorizedIdentity{}, ErrForbidden
	}

	return AuthorizedIdentity{Subject: subject, AuthorizedAt: time.Now()}, nil
}

func checkAssertionShape(assertion string) error {
	if assertion == "" {
		return fmt.Errorf("%w: missing identity assertion", ErrUnauthenticated)
	}
	if len(assertion) > MaxAssertionLength {
		return fmt.Errorf("%w: assertion too long", ErrUnauthenticated)
	}
	for _, r := range assertion {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: malformed assertion", ErrUnauthenticated)
		}
	}
	return nil
}
