package guardrail

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/compresr/guard-gateway/external"
	"github.com/compresr/guard-gateway/internal/oracle"
)

// Intent is the classifier's answer.
type Intent string

const (
	IntentSafe    Intent = "SAFE"
	IntentBlocked Intent = "BLOCKED"
)

// CategoryUnsafeIntent is the block reason when the classifier gives none.
const CategoryUnsafeIntent = "unsafe_intent"

// ClassifyRequest is the classifier input. Signals are screen hints.
type ClassifyRequest struct {
	Text    string
	Signals []string
}

// Classification is the classifier output.
type Classification struct {
	Intent   Intent
	Category string
}

// Classifier judges the intent of already-screened text.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req ClassifyRequest) (Classification, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	return f(ctx, req)
}

// =============================================================================
// HTTP CLASSIFIER
// =============================================================================

// HTTPClassifier calls a dedicated classification service.
//
//	POST /classify {"text": "...", "signals": [...]} -> {"verdict": "SAFE|BLOCKED", "category": "..."}
type HTTPClassifier struct {
	client *oracle.Client
}

// NewHTTPClassifier wraps an oracle client.
func NewHTTPClassifier(client *oracle.Client) *HTTPClassifier {
	return &HTTPClassifier{client: client}
}

// Classify calls the remote service. An unknown verdict is an oracle failure.
func (c *HTTPClassifier) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "text", req.Text)
	if err == nil && len(req.Signals) > 0 {
		payload, err = sjson.SetBytes(payload, "signals", req.Signals)
	}
	if err != nil {
		return Classification{}, fmt.Errorf("build classify request: %w", err)
	}

	body, err := c.client.Post(ctx, "/classify", payload)
	if err != nil {
		return Classification{}, err
	}

	fields := gjson.GetManyBytes(body, "verdict", "category")
	switch Intent(strings.ToUpper(fields[0].String())) {
	case IntentSafe:
		return Classification{Intent: IntentSafe}, nil
	case IntentBlocked:
		category := fields[1].String()
		if category == "" {
			category = CategoryUnsafeIntent
		}
		return Classification{Intent: IntentBlocked, Category: category}, nil
	default:
		return Classification{}, oracle.Unavailable(oracle.Classifier,
			fmt.Errorf("unrecognized verdict %q", fields[0].String()))
	}
}

// =============================================================================
// LLM JUDGE
// =============================================================================

// LLMJudge asks a hosted LLM to answer BLOCKED or echo the input.
type LLMJudge struct {
	client    *oracle.Client
	provider  external.Provider
	model     string
	apiKey    string
	maxTokens int
}

// NewLLMJudge creates a judge. The client must be built without an API key;
// the provider-specific auth header is added per request.
func NewLLMJudge(client *oracle.Client, provider external.Provider, model, apiKey string, maxTokens int) *LLMJudge {
	return &LLMJudge{
		client:    client,
		provider:  provider,
		model:     model,
		apiKey:    apiKey,
		maxTokens: maxTokens,
	}
}

// Classify asks the model. An empty or unparseable answer is an oracle failure.
func (j *LLMJudge) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	call, err := external.BuildJudgeRequest(j.provider, j.model, j.apiKey, req.Text, j.maxTokens)
	if err != nil {
		return Classification{}, err
	}

	body, err := j.client.PostWithHeaders(ctx, call.Path, call.Body, call.Headers)
	if err != nil {
		return Classification{}, err
	}

	answer, err := external.ExtractJudgeAnswer(j.provider, body)
	if err != nil {
		return Classification{}, oracle.Unavailable(oracle.Classifier, err)
	}
	if answer == "" {
		return Classification{}, oracle.Unavailable(oracle.Classifier, errors.New("empty judge answer"))
	}

	if external.IsBlockedAnswer(answer) {
		return Classification{Intent: IntentBlocked, Category: CategoryUnsafeIntent}, nil
	}
	return Classification{Intent: IntentSafe}, nil
}

// =============================================================================
// REQUEST COALESCING
// =============================================================================

// CoalescingClassifier shares one in-flight classification between
// concurrent callers with identical input. Each caller still honors its own
// context; the shared call is detached from any single caller's cancellation.
type CoalescingClassifier struct {
	next     Classifier
	inflight singleflight.Group
}

// NewCoalescingClassifier wraps next.
func NewCoalescingClassifier(next Classifier) *CoalescingClassifier {
	return &CoalescingClassifier{next: next}
}

// Classify implements Classifier.
func (c *CoalescingClassifier) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	key := coalesceKey(req)
	shared := context.WithoutCancel(ctx)

	ch := c.inflight.DoChan(key, func() (any, error) {
		return c.next.Classify(shared, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Classification{}, res.Err
		}
		return res.Val.(Classification), nil
	case <-ctx.Done():
		return Classification{}, ctx.Err()
	}
}

func coalesceKey(req ClassifyRequest) string {
	h := blake3.New()
	_, _ = h.Write([]byte(req.Text))
	for _, s := range req.Signals {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}
