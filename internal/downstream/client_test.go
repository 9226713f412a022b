package downstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func drain(t *testing.T, s *Stream) (string, error) {
	t.Helper()
	var sb strings.Builder
	for {
		chunk, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sb.String(), nil
			}
			return sb.String(), err
		}
		sb.Write(chunk)
	}
}

func TestClient_OpenSendsApprovedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello [EMAIL_ADDRESS]", gjson.GetBytes(body, "message").String())
		assert.Equal(t, "sess-key", gjson.GetBytes(body, "session_id").String())
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		assert.Equal(t, "Bearer gen-key", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		_, _ = w.Write([]byte("Hello, world"))
	}))
	defer server.Close()

	c := NewClient(server.URL, "gen-key")
	s, err := c.Open(context.Background(), Request{Payload: "hello [EMAIL_ADDRESS]", SessionKey: "sess-key", RequestID: "req-1"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
}

func TestClient_OpenNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("model overloaded"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Open(context.Background(), Request{Payload: "x"})
	require.Error(t, err)
	assert.True(t, IsStatus(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Contains(t, se.Body, "overloaded")
}

func TestClient_OpenConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "").Open(context.Background(), Request{Payload: "x"})
	require.Error(t, err)
	assert.False(t, IsStatus(err))
}

func TestClient_ContextCancelReleasesStream(t *testing.T) {
	released := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewClient(server.URL, "").Open(ctx, Request{Payload: "x"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", string(chunk))

	cancel()
	_, err = s.Next()
	assert.Error(t, err)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("downstream connection was not released")
	}
}

func TestClient_Signed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "AWS4-HMAC-SHA256")
		assert.Contains(t, r.Header.Get("Authorization"), "us-east-1/execute-api")
		assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	creds := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
	})
	signer := NewSignerWithCredentials(creds, "us-east-1", "execute-api")
	require.True(t, signer.IsConfigured())

	s, err := NewClient(server.URL, "ignored", WithSigner(signer)).Open(context.Background(), Request{Payload: "x"})
	require.NoError(t, err)
	_ = s.Close()
}

func TestBuildBody_EscapesPayload(t *testing.T) {
	body, err := BuildBody(Request{Payload: `quote " and <tag>`, SessionKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, `quote " and <tag>`, gjson.GetBytes(body, "message").String())
}
