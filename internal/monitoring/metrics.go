// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - outcomes:  Terminal result of every request
//   - verdicts:  Guardrail allow / redact / block counts per stage
//   - policies:  Oracle failure policies fired
//   - stream:    Bytes and tokens relayed downstream -> client
//
// Counters back the /stats endpoint. When a PromMetrics is attached the same
// events are exported for scraping. MetricsCollector also implements the
// guardrail pipeline observer.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/compresr/guard-gateway/internal/guardrail"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time
	prom      *PromMetrics

	// Request outcome counters
	requests           atomic.Int64
	completed          atomic.Int64
	blocked            atomic.Int64
	unauthenticated    atomic.Int64
	forbidden          atomic.Int64
	invalid            atomic.Int64
	rateLimited        atomic.Int64
	oracleUnavailable  atomic.Int64
	unavailable        atomic.Int64
	upstreamFailed     atomic.Int64
	timedOut           atomic.Int64
	clientDisconnected atomic.Int64

	// Guardrail counters
	allowed        atomic.Int64
	redacted       atomic.Int64
	screenBlocks   atomic.Int64
	semanticBlocks atomic.Int64
	policiesFired  atomic.Int64
	redactorRuns   atomic.Int64
	classifierRuns atomic.Int64

	// Stream counters
	bytesStreamed atomic.Int64
	outputTokens  atomic.Int64
}

// NewMetricsCollector creates a new metrics collector. prom may be nil.
func NewMetricsCollector(prom *PromMetrics) *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
		prom:      prom,
	}
}

// Prometheus returns the attached exporter, or nil.
func (mc *MetricsCollector) Prometheus() *PromMetrics { return mc.prom }

// RecordOutcome records the terminal outcome of a request.
func (mc *MetricsCollector) RecordOutcome(o Outcome) {
	mc.requests.Add(1)
	if c := mc.outcomeCounter(o); c != nil {
		c.Add(1)
	}
	if mc.prom != nil {
		mc.prom.requests.WithLabelValues(string(o)).Inc()
	}
}

func (mc *MetricsCollector) outcomeCounter(o Outcome) *atomic.Int64 {
	switch o {
	case OutcomeCompleted:
		return &mc.completed
	case OutcomeBlocked:
		return &mc.blocked
	case OutcomeUnauthenticated:
		return &mc.unauthenticated
	case OutcomeForbidden:
		return &mc.forbidden
	case OutcomeInvalid:
		return &mc.invalid
	case OutcomeRateLimited:
		return &mc.rateLimited
	case OutcomeOracleUnavailable:
		return &mc.oracleUnavailable
	case OutcomeUnavailable:
		return &mc.unavailable
	case OutcomeUpstreamFailed:
		return &mc.upstreamFailed
	case OutcomeTimedOut:
		return &mc.timedOut
	case OutcomeClientDisconnected:
		return &mc.clientDisconnected
	default:
		return nil
	}
}

// RecordStream records bytes and tokens relayed for one request.
func (mc *MetricsCollector) RecordStream(bytes int64, tokens int) {
	mc.bytesStreamed.Add(bytes)
	mc.outputTokens.Add(int64(tokens))
	if mc.prom != nil {
		mc.prom.streamBytes.Add(float64(bytes))
		mc.prom.outputTokens.Add(float64(tokens))
	}
}

// RecordFirstByte records downstream time-to-first-chunk.
func (mc *MetricsCollector) RecordFirstByte(d time.Duration) {
	if mc.prom != nil {
		mc.prom.observeFirstByte(d)
	}
}

// RecordBreakerTransition records a circuit breaker state change.
func (mc *MetricsCollector) RecordBreakerTransition(from, to string) {
	if mc.prom != nil {
		mc.prom.setBreakerState(from, to)
	}
}

// =============================================================================
// GUARDRAIL OBSERVER
// =============================================================================

// StageCompleted implements guardrail.Observer.
func (mc *MetricsCollector) StageCompleted(stage string, d time.Duration) {
	switch stage {
	case guardrail.StageRedactor:
		mc.redactorRuns.Add(1)
	case guardrail.StageClassifier:
		mc.classifierRuns.Add(1)
	}
	if mc.prom != nil {
		mc.prom.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// PolicyFired implements guardrail.Observer.
func (mc *MetricsCollector) PolicyFired(oracleName string, policy guardrail.FailurePolicy, _ error) {
	mc.policiesFired.Add(1)
	if mc.prom != nil {
		mc.prom.policyFired.WithLabelValues(oracleName, string(policy)).Inc()
	}
}

// Decided implements guardrail.Observer.
func (mc *MetricsCollector) Decided(v guardrail.Verdict, stage string) {
	switch v.Kind() {
	case guardrail.KindAllow:
		mc.allowed.Add(1)
	case guardrail.KindAllowWithRedaction:
		mc.redacted.Add(1)
	case guardrail.KindBlock:
		if stage == guardrail.StageScreen {
			mc.screenBlocks.Add(1)
		} else {
			mc.semanticBlocks.Add(1)
		}
	}
	if mc.prom != nil {
		mc.prom.verdicts.WithLabelValues(v.Kind().String(), v.Reason()).Inc()
	}
}

// =============================================================================
// STATS
// =============================================================================

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":  mc.requests.Load(),
		"completed": mc.completed.Load(),
		"blocked":   mc.blocked.Load(),
		"redacted":  mc.redacted.Load(),
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:              mc.requests.Load(),
			Completed:          mc.completed.Load(),
			Blocked:            mc.blocked.Load(),
			Unauthenticated:    mc.unauthenticated.Load(),
			Forbidden:          mc.forbidden.Load(),
			Invalid:            mc.invalid.Load(),
			RateLimited:        mc.rateLimited.Load(),
			OracleUnavailable:  mc.oracleUnavailable.Load(),
			Unavailable:        mc.unavailable.Load(),
			UpstreamFailed:     mc.upstreamFailed.Load(),
			TimedOut:           mc.timedOut.Load(),
			ClientDisconnected: mc.clientDisconnected.Load(),
		},
		Guardrails: GuardrailStats{
			Allowed:        mc.allowed.Load(),
			Redacted:       mc.redacted.Load(),
			ScreenBlocks:   mc.screenBlocks.Load(),
			SemanticBlocks: mc.semanticBlocks.Load(),
			RedactorRuns:   mc.redactorRuns.Load(),
			ClassifierRuns: mc.classifierRuns.Load(),
			PoliciesFired:  mc.policiesFired.Load(),
		},
		Stream: StreamStats{
			Bytes:        mc.bytesStreamed.Load(),
			OutputTokens: mc.outputTokens.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartedAt     string         `json:"started_at"`
	Requests      RequestStats   `json:"requests"`
	Guardrails    GuardrailStats `json:"guardrails"`
	Stream        StreamStats    `json:"stream"`
}

// RequestStats holds request outcome counts.
type RequestStats struct {
	Total              int64 `json:"total"`
	Completed          int64 `json:"completed"`
	Blocked            int64 `json:"blocked"`
	Unauthenticated    int64 `json:"unauthenticated"`
	Forbidden          int64 `json:"forbidden"`
	Invalid            int64 `json:"invalid"`
	RateLimited        int64 `json:"rate_limited"`
	OracleUnavailable  int64 `json:"oracle_unavailable"`
	Unavailable        int64 `json:"unavailable"`
	UpstreamFailed     int64 `json:"upstream_failed"`
	TimedOut           int64 `json:"timed_out"`
	ClientDisconnected int64 `json:"client_disconnected"`
}

// GuardrailStats holds pipeline metrics.
type GuardrailStats struct {
	Allowed        int64 `json:"allowed"`
	Redacted       int64 `json:"redacted"`
	ScreenBlocks   int64 `json:"screen_blocks"`
	SemanticBlocks int64 `json:"semantic_blocks"`
	RedactorRuns   int64 `json:"redactor_runs"`
	ClassifierRuns int64 `json:"classifier_runs"`
	PoliciesFired  int64 `json:"policies_fired"`
}

// StreamStats holds downstream relay metrics.
type StreamStats struct {
	Bytes        int64 `json:"bytes"`
	OutputTokens int64 `json:"output_tokens"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
