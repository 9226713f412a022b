// Package monitoring - prometheus.go exports metrics for scraping.
//
// DESIGN: Each PromMetrics owns its registry so gateways built in tests do
// not collide on the default registry. All label values come from bounded
// sets (outcomes, stages, categories, oracle names).
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "guard_gateway"

// PromMetrics holds the Prometheus collectors.
type PromMetrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	policyFired   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	breakerMoves  *prometheus.CounterVec
	streamBytes   prometheus.Counter
	outputTokens  prometheus.Counter
	firstByte     prometheus.Histogram
}

// NewPromMetrics registers all collectors on a fresh registry.
func NewPromMetrics() *PromMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PromMetrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests by terminal outcome.",
		}, []string{"outcome"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "guardrail_verdicts_total",
			Help:      "Guardrail verdicts by kind and block reason.",
		}, []string{"kind", "reason"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "guardrail_stage_duration_seconds",
			Help:      "Guardrail stage latency.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.025, 0.1, 0.25, 1, 5},
		}, []string{"stage"}),
		policyFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "oracle_failure_policy_total",
			Help:      "Oracle failures by oracle and the policy applied.",
		}, []string{"oracle", "policy"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "breaker_state",
			Help:      "1 for the current downstream circuit breaker state.",
		}, []string{"state"}),
		breakerMoves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"from", "to"}),
		streamBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_bytes_total",
			Help:      "Bytes relayed from the generation service.",
		}),
		outputTokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "output_tokens_total",
			Help:      "Tokens relayed from the generation service.",
		}),
		firstByte: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "downstream_first_byte_seconds",
			Help:      "Time from downstream call start to first chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry.
func (p *PromMetrics) Registry() *prometheus.Registry { return p.registry }

// RegisterGaugeFunc exports a value computed at scrape time.
func (p *PromMetrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	promauto.With(p.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func (p *PromMetrics) setBreakerState(from, to string) {
	if from != "" {
		p.breakerState.WithLabelValues(from).Set(0)
		p.breakerMoves.WithLabelValues(from, to).Inc()
	}
	p.breakerState.WithLabelValues(to).Set(1)
}

func (p *PromMetrics) observeFirstByte(d time.Duration) {
	p.firstByte.Observe(d.Seconds())
}
