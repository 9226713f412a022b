// Package gateway - stats.go exposes aggregated metrics as JSON.
//
// GET /stats returns request outcomes, guardrail counters, breaker state and
// redactor pool load.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/compresr/guard-gateway/internal/guardrail"
	"github.com/compresr/guard-gateway/internal/monitoring"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	monitoring.StatsResponse

	Breaker       BreakerStats         `json:"breaker"`
	RedactorPool  *guardrail.PoolStats `json:"redactor_pool,omitempty"`
	ActiveStreams int64                `json:"active_streams"`
	RateLimiters  int                  `json:"rate_limit_buckets"`
}

// BreakerStats is the JSON view of the circuit breaker.
type BreakerStats struct {
	State        string  `json:"state"`
	Successes    int     `json:"window_successes"`
	Failures     int     `json:"window_failures"`
	FailureRatio float64 `json:"failure_ratio"`
	Transitions  int64   `json:"transitions"`
	NextProbeAt  string  `json:"next_probe_at,omitempty"`
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	resp := StatsResponse{
		StatsResponse: g.metrics.FullStats(),
		ActiveStreams: g.activeStreams.Load(),
	}

	bs := g.breaker.Stats()
	resp.Breaker = BreakerStats{
		State:        bs.State.String(),
		Successes:    bs.Successes,
		Failures:     bs.Failures,
		FailureRatio: bs.FailureRatio(),
		Transitions:  bs.Transitions,
	}
	if !bs.NextProbeAt.IsZero() {
		resp.Breaker.NextProbeAt = bs.NextProbeAt.Format(time.RFC3339)
	}

	if g.pool != nil {
		ps := g.pool.Stats()
		resp.RedactorPool = &ps
	}
	if g.limiter != nil {
		resp.RateLimiters = g.limiter.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
