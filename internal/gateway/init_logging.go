package gateway

import (
	"net/url"
	"time"

	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/monitoring"
)

func buildInitEvent(cfg *config.Config, version string, screenRules int) *monitoring.InitEvent {
	ev := &monitoring.InitEvent{
		Timestamp:         time.Now(),
		Event:             "gateway_init",
		Version:           version,
		ServerPort:        cfg.Server.Port,
		MaxInputChars:     cfg.Server.MaxInputChars,
		RequestTimeoutMs:  cfg.Server.RequestTimeout.Milliseconds(),
		IdentityMode:      cfg.Auth.Identity.Mode,
		EntitlementMode:   cfg.Auth.Entitlement.Mode,
		ScreenRules:       screenRules,
		RedactorBackend:   cfg.Guardrails.Redactor.Backend,
		RedactorPolicy:    cfg.Guardrails.Redactor.FailurePolicy,
		RedactorWorkers:   cfg.Guardrails.Redactor.Workers,
		ClassifierBackend: cfg.Guardrails.Classifier.Backend,
		ClassifierPolicy:  cfg.Guardrails.Classifier.FailurePolicy,
		SigV4Enabled:      cfg.Downstream.SigV4.Enabled,
		BreakerRatio:      cfg.Breaker.FailureRatio,
		BreakerCoolDownMs: cfg.Breaker.CoolDown.Milliseconds(),
		HistoryEnabled:    cfg.Store.HistoryEnabled,
		MetricsEnabled:    cfg.Monitoring.MetricsEnabled,
		TracingEnabled:    cfg.Monitoring.TracingEnabled,
	}

	// Host only; paths and query strings may carry credentials.
	if u, err := url.Parse(cfg.Downstream.URL); err == nil {
		ev.DownstreamHost = u.Host
	}
	if cfg.RateLimit.Enabled {
		ev.RateLimitPerMinute = cfg.RateLimit.PerMinute
	}
	return ev
}
