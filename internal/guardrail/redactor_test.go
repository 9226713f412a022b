package guardrail

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/guard-gateway/internal/oracle"
)

func newTestLocalRedactor(t *testing.T) *LocalRedactor {
	t.Helper()
	rs, err := LoadRuleSet("")
	require.NoError(t, err)
	r, err := NewLocalRedactor(rs)
	require.NoError(t, err)
	return r
}

func TestLocalRedactor_Placeholders(t *testing.T) {
	r := newTestLocalRedactor(t)

	tests := []struct {
		in, want string
	}{
		{"mail jane.doe@example.com now", "mail [EMAIL_ADDRESS] now"},
		{"ssn 123-45-6789", "ssn [US_SOCIAL_SECURITY_NUMBER]"},
		{"card 4111111111111111", "card [CREDIT_CARD_NUMBER]"},
		{"call 555-123-4567", "call [PHONE_NUMBER]"},
		{"nothing sensitive here", "nothing sensitive here"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out, err := r.Redact(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestLocalRedactor_CancelledContext(t *testing.T) {
	r := newTestLocalRedactor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Redact(ctx, "a@b.co")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPRedactor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/redact", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		if gjson.GetBytes(body, "text").String() == "broken" {
			_, _ = w.Write([]byte(`{"unexpected":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"text":"hello [EMAIL_ADDRESS]"}`))
	}))
	defer server.Close()

	r := NewHTTPRedactor(oracle.NewClient(oracle.Redactor, server.URL, ""))

	out, err := r.Redact(context.Background(), "hello a@b.co")
	require.NoError(t, err)
	assert.Equal(t, "hello [EMAIL_ADDRESS]", out)

	_, err = r.Redact(context.Background(), "broken")
	name, ok := oracle.Which(err)
	assert.True(t, ok)
	assert.Equal(t, oracle.Redactor, name)
}
