// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when the tokenizer encoding is unavailable.
const TokenEstimateRatio = 4

// DefaultTokenEncoding is the tiktoken encoding used to count relayed tokens.
const DefaultTokenEncoding = "cl100k_base"

// =============================================================================
// INPUT LIMITS
// =============================================================================

// DefaultMaxInputChars is the maximum message length in characters.
const DefaultMaxInputChars = 10000

// MaxSessionIDLength bounds the client-chosen conversation identifier.
const MaxSessionIDLength = 128

// =============================================================================
// GUARDRAIL DEFAULTS
// =============================================================================

// DefaultRedactorWorkers is the size of the shared redaction worker pool.
const DefaultRedactorWorkers = 4

// DefaultRedactorQueueDepth bounds queued redaction jobs across all requests.
const DefaultRedactorQueueDepth = 64

// DefaultOracleTimeout bounds a single call to an external oracle.
const DefaultOracleTimeout = 5 * time.Second

// DefaultFailurePolicy applies only when a config file omits a guardrail section.
const DefaultFailurePolicy = "fail_closed"

// DefaultJudgeMaxTokens caps the security judge completion.
const DefaultJudgeMaxTokens = 16

// =============================================================================
// CIRCUIT BREAKER DEFAULTS
// =============================================================================

// DefaultBreakerFailureRatio opens the breaker once half the windowed attempts fail.
const DefaultBreakerFailureRatio = 0.5

// DefaultBreakerMinRequests is the minimum windowed attempts before the ratio is evaluated.
const DefaultBreakerMinRequests = 5

// DefaultBreakerWindow is the rolling failure-accounting horizon.
const DefaultBreakerWindow = 60 * time.Second

// DefaultBreakerBuckets splits the window into this many slots.
const DefaultBreakerBuckets = 6

// DefaultBreakerCoolDown is how long the breaker stays open before probing.
const DefaultBreakerCoolDown = 30 * time.Second

// DefaultFirstByteTimeout bounds how long an attempt may take to produce a usable stream.
const DefaultFirstByteTimeout = 20 * time.Second

// =============================================================================
// CLEANUP AND MAINTENANCE
// =============================================================================

// DefaultCleanupInterval is the frequency for background cleanup goroutines.
const DefaultCleanupInterval = 5 * time.Minute

// DefaultEntitlementCacheTTL is how long a positive entitlement answer is reused.
const DefaultEntitlementCacheTTL = 30 * time.Second

// DefaultLimiterTTL is how long an idle rate limiter bucket is kept.
const DefaultLimiterTTL = 10 * time.Minute

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateLimitPerMinute is requests per minute per identity.
const DefaultRateLimitPerMinute = 60

// MaxRateLimitBuckets prevents memory exhaustion from too many limiter buckets.
const MaxRateLimitBuckets = 10000

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultPort is the listen port.
const DefaultPort = 8080

// MaxRequestBodySize is the maximum allowed request body (1MB).
const MaxRequestBodySize = 1 * 1024 * 1024

// MaxResponseSize is the default server.max_response_size (10MB).
const MaxResponseSize = 10 * 1024 * 1024

// DefaultServerReadTimeout for HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultRequestTimeout bounds one request end to end, stream included.
const DefaultRequestTimeout = 5 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// DefaultDownstreamTimeout is the generation client's own timeout.
const DefaultDownstreamTimeout = 5 * time.Minute

// =============================================================================
// STORE
// =============================================================================

// DefaultStorePath is the SQLite database file.
const DefaultStorePath = "data/gateway.db"
