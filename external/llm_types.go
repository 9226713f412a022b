// LLM provider request/response types for OpenAI, Anthropic, and Gemini.
//
// These types are used by:
//   - judge.go: BuildJudgeRequest() / ExtractJudgeAnswer() for intent classification
package external

import (
	"fmt"
	"strings"
)

// =============================================================================
// Providers
// =============================================================================

// Provider names a hosted LLM API family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// AnthropicVersion is the API version header sent to Anthropic.
const AnthropicVersion = "2023-06-01"

// ParseProvider normalizes a configured provider name.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return p, nil
	default:
		return "", fmt.Errorf("unknown llm provider %q", s)
	}
}

// =============================================================================
// Request bodies
// =============================================================================

// ChatMessage is a role/content pair shared by the OpenAI and Anthropic formats.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIChatRequest is the chat completions body.
type OpenAIChatRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

// AnthropicRequest is the messages API body.
type AnthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// GeminiPart is one text part.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiContent is a role and its parts.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiGenerationConfig holds sampling limits.
type GeminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

// GeminiRequest is the generateContent body.
type GeminiRequest struct {
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent         `json:"contents"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// =============================================================================
// Response bodies (only the fields the judge reads)
// =============================================================================

// APIError is the error object each provider may return instead of an answer.
type APIError struct {
	Message string `json:"message"`
}

// OpenAIChatResponse is a chat completions reply.
type OpenAIChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *APIError `json:"error,omitempty"`
}

// AnthropicResponse is a messages API reply.
type AnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *APIError `json:"error,omitempty"`
}

// GeminiResponse is a generateContent reply.
type GeminiResponse struct {
	Candidates []struct {
		Content GeminiContent `json:"content"`
	} `json:"candidates"`
	Error *APIError `json:"error,omitempty"`
}
