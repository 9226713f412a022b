package guardrail

import (
	"context"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/guard-gateway/internal/oracle"
)

// ProtectedContent replaces the whole payload under the fail_masked policy.
const ProtectedContent = "[PROTECTED CONTENT]"

// Redactor replaces sensitive spans with typed placeholders.
type Redactor interface {
	Redact(ctx context.Context, text string) (string, error)
}

// RedactorFunc adapts a function to Redactor.
type RedactorFunc func(ctx context.Context, text string) (string, error)

// Redact calls f.
func (f RedactorFunc) Redact(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Placeholder returns the marker that replaces an entity, e.g. "[EMAIL_ADDRESS]".
func Placeholder(entity string) string {
	return "[" + entity + "]"
}

// =============================================================================
// LOCAL REDACTOR
// =============================================================================

type entityPattern struct {
	name string
	re   *regexp.Regexp
}

// LocalRedactor applies entity patterns in order. It never fails.
type LocalRedactor struct {
	entities []entityPattern
}

// NewLocalRedactor compiles the entity list of a rule set.
func NewLocalRedactor(rs *RuleSet) (*LocalRedactor, error) {
	if len(rs.Entities) == 0 {
		return nil, fmt.Errorf("rule set has no redaction entities")
	}
	r := &LocalRedactor{}
	for _, e := range rs.Entities {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.Name, err)
		}
		r.entities = append(r.entities, entityPattern{name: e.Name, re: re})
	}
	return r, nil
}

// Redact replaces every entity match with its placeholder.
func (r *LocalRedactor) Redact(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.RedactString(text), nil
}

// RedactString is Redact without a context, used for output de-identification.
func (r *LocalRedactor) RedactString(text string) string {
	for _, e := range r.entities {
		text = e.re.ReplaceAllLiteralString(text, Placeholder(e.name))
	}
	return text
}

// =============================================================================
// HTTP REDACTOR
// =============================================================================

// HTTPRedactor delegates to a remote redaction service.
//
//	POST /redact {"text": "..."} -> {"text": "..."}
type HTTPRedactor struct {
	client *oracle.Client
}

// NewHTTPRedactor wraps an oracle client.
func NewHTTPRedactor(client *oracle.Client) *HTTPRedactor {
	return &HTTPRedactor{client: client}
}

// Redact calls the remote service.
func (r *HTTPRedactor) Redact(ctx context.Context, text string) (string, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "text", text)
	if err != nil {
		return "", fmt.Errorf("build redact request: %w", err)
	}

	body, err := r.client.Post(ctx, "/redact", payload)
	if err != nil {
		return "", err
	}

	out := gjson.GetBytes(body, "text")
	if !out.Exists() || out.Type != gjson.String {
		return "", oracle.Unavailable(oracle.Redactor, fmt.Errorf("response missing text field"))
	}
	return out.String(), nil
}
