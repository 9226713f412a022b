package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/oracle"
)

func newTestGuard(entitled ...string) *Guard {
	verifier := NewStaticVerifier(map[string]string{
		"token-alice": "alice@example.com",
		"token-bob":   "bob@example.com",
	})
	return NewGuard(verifier, NewStaticEntitlements(entitled))
}

func TestGuard_Authorize(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		entitled  []string
		wantErr   error
		wantSub   string
	}{
		{"missing assertion", "", nil, ErrUnauthenticated, ""},
		{"malformed assertion", "token alice", nil, ErrUnauthenticated, ""},
		{"oversized assertion", strings.Repeat("a", MaxAssertionLength+1), nil, ErrUnauthenticated, ""},
		{"unknown token", "token-mallory", []string{"alice@example.com"}, ErrUnauthenticated, ""},
		{"valid but unentitled", "token-bob", []string{"alice@example.com"}, ErrForbidden, ""},
		{"valid and entitled", "token-alice", []string{"Alice@Example.com"}, nil, "alice@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuard(tt.entitled...)
			id, err := g.Authorize(context.Background(), tt.assertion)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, id.Subject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, id.Subject)
			assert.False(t, id.AuthorizedAt.IsZero())
		})
	}
}

func TestGuard_EntitlementNotConsultedForBadIdentity(t *testing.T) {
	var calls atomic.Int32
	g := NewGuard(NewStaticVerifier(nil), EntitlementFunc(func(context.Context, string) (bool, error) {
		calls.Add(1)
		return true, nil
	}))

	_, err := g.Authorize(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(0), calls.Load())
}

func TestGuard_OracleFailuresSurfaceAsOracleErrors(t *testing.T) {
	down := VerifierFunc(func(context.Context, string) (string, error) {
		return "", oracle.Unavailable(oracle.Identity, errors.New("connection refused"))
	})
	g := NewGuard(down, NewStaticEntitlements(nil))
	_, err := g.Authorize(context.Background(), "token")
	name, ok := oracle.Which(err)
	require.True(t, ok)
	assert.Equal(t, oracle.Identity, name)
	assert.NotErrorIs(t, err, ErrUnauthenticated)

	g = NewGuard(NewStaticVerifier(map[string]string{"t": "a@b.co"}), EntitlementFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("db locked")
	}))
	_, err = g.Authorize(context.Background(), "t")
	name, ok = oracle.Which(err)
	require.True(t, ok)
	assert.Equal(t, oracle.Entitlement, name)
}

func TestGuard_EmptyIdentityRejected(t *testing.T) {
	g := NewGuard(VerifierFunc(func(context.Context, string) (string, error) {
		return "  ", nil
	}), NewStaticEntitlements([]string{""}))
	_, err := g.Authorize(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHTTPVerifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		switch {
		case strings.Contains(body, `"good"`):
			_, _ = w.Write([]byte(`{"valid":true,"identity":"carol@example.com"}`))
		case strings.Contains(body, `"boom"`):
			w.WriteHeader(http.StatusInternalServerError)
		case strings.Contains(body, `"revoked"`):
			w.WriteHeader(http.StatusUnauthorized)
		case strings.Contains(body, `"banned"`):
			w.WriteHeader(http.StatusForbidden)
		default:
			_, _ = w.Write([]byte(`{"valid":false,"reason":"expired"}`))
		}
	}))
	defer server.Close()

	v := NewHTTPVerifier(oracle.NewClient(oracle.Identity, server.URL, ""))

	id, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", id)

	_, err = v.Verify(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrInvalidAssertion)
	assert.Contains(t, err.Error(), "expired")

	_, err = v.Verify(context.Background(), "boom")
	_, ok := oracle.Which(err)
	assert.True(t, ok)

	for _, token := range []string{"revoked", "banned"} {
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidAssertion, token)
		_, ok = oracle.Which(err)
		assert.False(t, ok, "a rejected token is not an oracle outage")
	}

	g := NewGuard(v, NewStaticEntitlements([]string{"carol@example.com"}))
	_, err = g.Authorize(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestHTTPEntitlements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("identity") {
		case "paid@example.com":
			_, _ = w.Write([]byte(`{"entitled":true}`))
		case "weird@example.com":
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`{"entitled":false}`))
		}
	}))
	defer server.Close()

	e := NewHTTPEntitlements(oracle.NewClient(oracle.Entitlement, server.URL, ""))

	ok, err := e.IsEntitled(context.Background(), "paid@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.IsEntitled(context.Background(), "free@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.IsEntitled(context.Background(), "weird@example.com")
	_, isOracle := oracle.Which(err)
	assert.True(t, isOracle)
}

func TestCachedEntitlements_CachesOnlyGrants(t *testing.T) {
	var calls atomic.Int32
	answer := atomic.Bool{}
	answer.Store(false)
	next := EntitlementFunc(func(context.Context, string) (bool, error) {
		calls.Add(1)
		return answer.Load(), nil
	})
	c := NewCachedEntitlements(next, time.Minute, 0)
	defer c.Stop()

	ok, _ := c.IsEntitled(context.Background(), "x")
	assert.False(t, ok)
	ok, _ = c.IsEntitled(context.Background(), "x")
	assert.False(t, ok)
	assert.Equal(t, int32(2), calls.Load(), "denials are not cached")

	answer.Store(true)
	ok, _ = c.IsEntitled(context.Background(), "x")
	assert.True(t, ok)
	ok, _ = c.IsEntitled(context.Background(), "x")
	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load(), "grant served from cache")

	c.Invalidate("x")
	answer.Store(false)
	ok, _ = c.IsEntitled(context.Background(), "x")
	assert.False(t, ok)
}

func TestSetupGuard(t *testing.T) {
	cfg := config.Default().Auth
	cfg.Identity.Tokens = map[string]string{"tok": "dave@example.com"}
	cfg.Entitlement.Mode = config.ModeStatic
	cfg.Entitlement.Entitled = []string{"dave@example.com"}

	g, stop, err := SetupGuard(cfg, nil)
	require.NoError(t, err)
	defer stop()

	id, err := g.Authorize(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "dave@example.com", id.Subject)

	cfg.Entitlement.Mode = config.ModeSQLite
	_, _, err = SetupGuard(cfg, nil)
	assert.Error(t, err)
}

func readBody(r *http.Request) string {
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, r.Body)
	return buf.String()
}
