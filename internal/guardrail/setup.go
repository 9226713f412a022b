package guardrail

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/guard-gateway/external"
	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/oracle"
)

// Setup builds the pipeline described by cfg. The returned Pool is owned by
// the caller and must be closed on shutdown.
func Setup(cfg config.GuardrailsConfig, opts ...Option) (*Pipeline, *Pool, error) {
	rules, err := LoadRuleSet(cfg.Screen.RulesFile)
	if err != nil {
		return nil, nil, err
	}
	screen, err := NewScreen(rules)
	if err != nil {
		return nil, nil, err
	}
	local, err := NewLocalRedactor(rules)
	if err != nil {
		return nil, nil, err
	}

	redactor, err := buildRedactor(cfg.Redactor, local)
	if err != nil {
		return nil, nil, err
	}
	classifier, err := buildClassifier(cfg.Classifier)
	if err != nil {
		return nil, nil, err
	}

	policies := Policies{
		Redactor:   FailurePolicy(cfg.Redactor.FailurePolicy),
		Classifier: FailurePolicy(cfg.Classifier.FailurePolicy),
	}

	pool := NewPool(redactor, cfg.Redactor.Workers, cfg.Redactor.QueueDepth)
	opts = append([]Option{WithOutputRedactor(local)}, opts...)

	p, err := NewPipeline(screen, pool, NewCoalescingClassifier(classifier), policies, opts...)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}

	log.Info().
		Int("rules", screen.RuleCount()).
		Str("redactor", cfg.Redactor.Backend).
		Str("redactor_policy", string(policies.Redactor)).
		Str("classifier", cfg.Classifier.Backend).
		Str("classifier_policy", string(policies.Classifier)).
		Int("redactor_workers", cfg.Redactor.Workers).
		Msg("guardrail pipeline ready")

	return p, pool, nil
}

func buildRedactor(cfg config.RedactorConfig, local *LocalRedactor) (Redactor, error) {
	switch cfg.Backend {
	case config.ModeLocal:
		return local, nil
	case config.ModeHTTP:
		client := oracle.NewClient(oracle.Redactor, cfg.URL, cfg.APIKey, oracle.WithTimeout(cfg.Timeout))
		return NewHTTPRedactor(client), nil
	default:
		return nil, fmt.Errorf("unknown redactor backend %q", cfg.Backend)
	}
}

func buildClassifier(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Backend {
	case config.ModeHTTP:
		client := oracle.NewClient(oracle.Classifier, cfg.URL, cfg.APIKey, oracle.WithTimeout(cfg.Timeout))
		return NewHTTPClassifier(client), nil
	case config.ModeLLM:
		provider, err := external.ParseProvider(cfg.Provider)
		if err != nil {
			return nil, err
		}
		client := oracle.NewClient(oracle.Classifier, cfg.URL, "", oracle.WithTimeout(cfg.Timeout))
		return NewLLMJudge(client, provider, cfg.Model, cfg.APIKey, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
	}
}
