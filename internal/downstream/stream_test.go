package downstream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEStream_ExtractsText(t *testing.T) {
	body := "data: {\"text\":\"Hel\"}\n\n" +
		"event: ping\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\r\n\r\n" +
		"data: {\"delta\":{\"text\":\", \"}}\n\n" +
		"data: plain words\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"text\":\"after done\"}\n\n"

	s := NewSSEStream(io.NopCloser(strings.NewReader(body)))
	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "Hello, plain words", text)
}

func TestSSEStream_SplitAcrossReads(t *testing.T) {
	body := "data: {\"text\":\"a\"}\n\ndata: {\"text\":\"b\"}\n\ndata: {\"text\":\"c\"}"
	s := NewSSEStream(io.NopCloser(iotest.OneByteReader(strings.NewReader(body))))

	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "abc", text, "trailing event without blank line is flushed at EOF")
}

func TestSSEStream_MidStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"text\":\"partial\"}\n\n"), iotest.ErrReader(boom))
	s := NewSSEStream(io.NopCloser(r))

	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", string(chunk))

	_, err = s.Next()
	assert.ErrorIs(t, err, boom)
}

func TestRawStream(t *testing.T) {
	s := NewRawStream(io.NopCloser(strings.NewReader(strings.Repeat("x", 10000))))
	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Len(t, text, 10000)
}

func TestSSEStream_InBandErrorFrame(t *testing.T) {
	body := "data: {\"text\":\"Hel\"}\n\n" +
		"event: error\ndata: {\"error\":{\"message\":\"overloaded\"}}\n\n"
	s := NewSSEStream(io.NopCloser(strings.NewReader(body)))

	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "Hel", string(chunk))

	_, err = s.Next()
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "overloaded", streamErr.Message)
	assert.NotErrorIs(t, err, io.EOF)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF, "the stream is finished after an error frame")
}

func TestSSEStream_ErrorFieldWithoutEventName(t *testing.T) {
	cases := map[string]string{
		"object": "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n",
		"string": "data: {\"error\":\"busy\"}\n\n",
		"naming": "event: error\ndata: busy\n\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewSSEStream(io.NopCloser(strings.NewReader("data: {\"text\":\"a\"}\n\n" + body)))
			_, err := drain(t, s)
			var streamErr *StreamError
			require.ErrorAs(t, err, &streamErr)
			assert.Equal(t, "busy", streamErr.Message)
		})
	}
}

func TestSSEStream_NullErrorIsIgnored(t *testing.T) {
	body := "data: {\"text\":\"ok\",\"error\":null}\n\ndata: [DONE]\n\n"
	text, err := drain(t, NewSSEStream(io.NopCloser(strings.NewReader(body))))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestTokenCounter_EstimatesUntilLoaded(t *testing.T) {
	c := &TokenCounter{encoding: "cl100k_base", ready: make(chan struct{})}
	assert.Equal(t, 3, c.Count("abcdefghij"), "no load has run, so Count must not block")
}

func TestTokenCounter_Fallback(t *testing.T) {
	c := NewTokenCounter("no_such_encoding")
	<-c.Ready()
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 3, c.Count("abcdefghij"))
	assert.Equal(t, 3, EstimateTokens("abcdefghij"))
	assert.Equal(t, 1, EstimateTokens("a"))
}
