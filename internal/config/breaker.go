// Circuit breaker config re-exports.
//
// DESIGN: Breaker config is defined in internal/breaker.
// This file re-exports the type for use by the main Config struct.
package config

import "github.com/compresr/guard-gateway/internal/breaker"

// BreakerConfig is an alias for breaker.Config.
type BreakerConfig = breaker.Config

// DefaultBreakerConfig returns breaker defaults from this package's constants.
func DefaultBreakerConfig() BreakerConfig {
	cfg := breaker.DefaultConfig()
	cfg.FailureRatio = DefaultBreakerFailureRatio
	cfg.MinRequests = DefaultBreakerMinRequests
	cfg.Window = DefaultBreakerWindow
	cfg.Buckets = DefaultBreakerBuckets
	cfg.CoolDown = DefaultBreakerCoolDown
	cfg.FirstByteTimeout = DefaultFirstByteTimeout
	return cfg
}
