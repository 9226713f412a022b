package external

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildJudgeRequest_Providers(t *testing.T) {
	tests := []struct {
		provider Provider
		path     string
		header   string
		textPath string
	}{
		{ProviderOpenAI, "/v1/chat/completions", "Authorization", "messages.1.content"},
		{ProviderAnthropic, "/v1/messages", "x-api-key", "messages.0.content"},
		{ProviderGemini, "/v1beta/models/gemini-pro:generateContent", "x-goog-api-key", "contents.0.parts.0.text"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			req, err := BuildJudgeRequest(tt.provider, "gemini-pro", "k", "hello there", 0)
			require.NoError(t, err)
			assert.Equal(t, tt.path, req.Path)
			assert.NotEmpty(t, req.Headers[tt.header])
			assert.Contains(t, gjson.GetBytes(req.Body, tt.textPath).String(), "hello there")
		})
	}

	_, err := BuildJudgeRequest("mistral", "m", "", "x", 0)
	assert.Error(t, err)
}

func TestExtractJudgeAnswer(t *testing.T) {
	answer, err := ExtractJudgeAnswer(ProviderOpenAI, []byte(`{"choices":[{"message":{"content":" BLOCKED "}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "BLOCKED", answer)

	answer, err = ExtractJudgeAnswer(ProviderAnthropic, []byte(`{"content":[{"type":"text","text":"hi"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", answer)

	_, err = ExtractJudgeAnswer(ProviderGemini, []byte(`{"error":{"code":429,"message":"quota"}}`))
	assert.Error(t, err)

	_, err = ExtractJudgeAnswer(ProviderOpenAI, []byte(`not json`))
	assert.Error(t, err)
}

func TestIsBlockedAnswer(t *testing.T) {
	assert.True(t, IsBlockedAnswer("BLOCKED"))
	assert.True(t, IsBlockedAnswer("blocked."))
	assert.True(t, IsBlockedAnswer(`"BLOCKED"`))
	assert.False(t, IsBlockedAnswer("What is the weather like?"))
	assert.False(t, IsBlockedAnswer("BLOCKED because of policy"))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)

	_, err = ParseProvider("cohere")
	assert.Error(t, err)
}
