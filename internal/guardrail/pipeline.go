// Package guardrail implements the layered threat-detection pipeline.
//
// FILES:
//   - pipeline.go: stage ordering, failure policies and Evaluate
//   - verdict.go: the tagged Verdict type
//   - screen.go: fast in-process pattern screen (rules/rules.yaml)
//   - redactor.go: local and HTTP sensitive-data redactors
//   - pool.go: bounded worker pool that runs the redactor
//   - classifier.go: HTTP classifier, LLM judge and request coalescing
//   - setup.go: builds a Pipeline from config
//
// DESIGN: Stages run cheapest first. The screen is free and may end evaluation
// with a conclusive block. The redactor only runs for suspicious text. The
// classifier always runs on the text that would be forwarded. Each oracle has
// an explicit failure policy; firing it is logged and reported to the Observer.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compresr/guard-gateway/internal/oracle"
)

var tracer = otel.Tracer("guard-gateway/guardrail")

// =============================================================================
// FAILURE POLICY
// =============================================================================

// FailurePolicy decides what happens when an oracle cannot answer.
type FailurePolicy string

const (
	// FailClosed rejects the request.
	FailClosed FailurePolicy = "fail_closed"
	// FailOpen continues as if the stage had passed.
	FailOpen FailurePolicy = "fail_open"
	// FailMasked replaces the whole payload with ProtectedContent. Redactor only.
	FailMasked FailurePolicy = "fail_masked"
)

// ParsePolicy validates a policy name. An empty name is rejected.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case FailClosed, FailOpen, FailMasked:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// =============================================================================
// OBSERVER
// =============================================================================

// Stage names used in traces, logs and metrics.
const (
	StageScreen     = "screen"
	StageRedactor   = "redactor"
	StageClassifier = "classifier"
)

// Observer receives pipeline events. Implementations must be concurrency safe.
type Observer interface {
	StageCompleted(stage string, d time.Duration)
	PolicyFired(oracleName string, policy FailurePolicy, err error)
	Decided(v Verdict, stage string)
}

type nopObserver struct{}

func (nopObserver) StageCompleted(string, time.Duration)     {}
func (nopObserver) PolicyFired(string, FailurePolicy, error) {}
func (nopObserver) Decided(Verdict, string)                  {}

// =============================================================================
// PIPELINE
// =============================================================================

// Policies holds the per-oracle failure policies.
type Policies struct {
	Redactor   FailurePolicy
	Classifier FailurePolicy
}

// Validate rejects missing or inapplicable policies.
func (p Policies) Validate() error {
	if _, err := ParsePolicy(string(p.Redactor)); err != nil {
		return fmt.Errorf("redactor: %w", err)
	}
	switch p.Classifier {
	case FailClosed, FailOpen:
	default:
		return fmt.Errorf("classifier: failure policy must be fail_open or fail_closed, got %q", p.Classifier)
	}
	return nil
}

// Trace records which stages ran for one evaluation.
type Trace struct {
	Screen           ScreenResult
	RedactorCalled   bool
	ClassifierCalled bool
	PoliciesFired    []string
}

// Decision is a Verdict plus how it was reached.
type Decision struct {
	Verdict Verdict
	Trace   Trace
}

// Pipeline evaluates text through screen, redactor and classifier.
type Pipeline struct {
	screen     *Screen
	redactor   Redactor
	classifier Classifier
	output     *LocalRedactor
	policies   Policies
	observer   Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithOutputRedactor sets the redactor used by RedactOutput.
func WithOutputRedactor(r *LocalRedactor) Option {
	return func(p *Pipeline) {
		p.output = r
	}
}

// NewPipeline builds a pipeline. All three stages are required.
func NewPipeline(screen *Screen, redactor Redactor, classifier Classifier, policies Policies, opts ...Option) (*Pipeline, error) {
	if screen == nil || redactor == nil || classifier == nil {
		return nil, errors.New("screen, redactor and classifier are required")
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		screen:     screen,
		redactor:   redactor,
		classifier: classifier,
		policies:   policies,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Evaluate runs the stages in order and returns the decision.
//
// A non-nil error means no verdict was reached: either ctx ended (the caller
// maps this to a timeout or disconnect) or a fail_closed oracle could not
// answer (*oracle.Error). In both cases nothing may be forwarded.
func (p *Pipeline) Evaluate(ctx context.Context, text string) (Decision, error) {
	ctx, span := tracer.Start(ctx, "guardrail.Pipeline.Evaluate")
	defer span.End()

	var tr Trace

	// Stage 1: screen
	start := time.Now()
	tr.Screen = p.screen.Check(text)
	p.observer.StageCompleted(StageScreen, time.Since(start))
	span.SetAttributes(
		attribute.Bool("screen.conclusive", tr.Screen.ConclusiveBlock),
		attribute.Bool("screen.suspicious", tr.Screen.Suspicious),
	)

	if tr.Screen.ConclusiveBlock {
		return p.decide(span, Block(tr.Screen.Category), tr, StageScreen), nil
	}

	// Stage 2: redactor, only for suspicious text
	payload := text
	redacted := false
	if tr.Screen.Suspicious {
		tr.RedactorCalled = true
		out, err := p.redact(ctx, text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return abort(span, tr, ctxErr)
			}
			err = oracle.Unavailable(oracle.Redactor, err)
			tr.PoliciesFired = append(tr.PoliciesFired, oracle.Redactor+":"+string(p.policies.Redactor))
			p.firePolicy(oracle.Redactor, p.policies.Redactor, err)

			switch p.policies.Redactor {
			case FailOpen:
			case FailMasked:
				payload = ProtectedContent
				redacted = true
			default:
				return abort(span, tr, err)
			}
		} else {
			payload = out
			redacted = out != text
		}
	}

	// Stage 3: classifier, always
	tr.ClassifierCalled = true
	cls, err := p.classify(ctx, ClassifyRequest{Text: payload, Signals: tr.Screen.Signals})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return abort(span, tr, ctxErr)
		}
		err = oracle.Unavailable(oracle.Classifier, err)
		tr.PoliciesFired = append(tr.PoliciesFired, oracle.Classifier+":"+string(p.policies.Classifier))
		p.firePolicy(oracle.Classifier, p.policies.Classifier, err)

		if p.policies.Classifier != FailOpen {
			return abort(span, tr, err)
		}
		cls = Classification{Intent: IntentSafe}
	}

	if cls.Intent == IntentBlocked {
		return p.decide(span, Block(cls.Category), tr, StageClassifier), nil
	}
	if redacted {
		return p.decide(span, AllowWithRedaction(payload), tr, StageClassifier), nil
	}
	return p.decide(span, Allow(payload), tr, StageClassifier), nil
}

// RedactOutput de-identifies generated text before it is returned to a
// buffered client. Without an output redactor the text is returned as is.
func (p *Pipeline) RedactOutput(text string) string {
	if p.output == nil {
		return text
	}
	return p.output.RedactString(text)
}

// RuleCount returns the number of compiled screen rules.
func (p *Pipeline) RuleCount() int { return p.screen.RuleCount() }

func (p *Pipeline) redact(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "guardrail.redact")
	defer span.End()

	start := time.Now()
	out, err := p.redactor.Redact(ctx, text)
	p.observer.StageCompleted(StageRedactor, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redactor failed")
	}
	return out, err
}

func (p *Pipeline) classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	ctx, span := tracer.Start(ctx, "guardrail.classify")
	defer span.End()

	start := time.Now()
	cls, err := p.classifier.Classify(ctx, req)
	p.observer.StageCompleted(StageClassifier, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classifier failed")
		return cls, err
	}
	span.SetAttributes(attribute.String("intent", string(cls.Intent)))
	return cls, nil
}

func (p *Pipeline) firePolicy(name string, policy FailurePolicy, err error) {
	log.Warn().
		Err(err).
		Str("oracle", name).
		Str("policy", string(policy)).
		Msg("guardrail: oracle unavailable, applying failure policy")
	p.observer.PolicyFired(name, policy, err)
}

func (p *Pipeline) decide(span trace.Span, v Verdict, tr Trace, stage string) Decision {
	span.SetAttributes(
		attribute.String("verdict", v.Kind().String()),
		attribute.String("decided_by", stage),
	)
	p.observer.Decided(v, stage)
	return Decision{Verdict: v, Trace: tr}
}

func abort(span trace.Span, tr Trace, err error) (Decision, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "no verdict")
	return Decision{Trace: tr}, err
}
