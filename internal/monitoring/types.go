// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - Outcome:        Terminal result of one gateway request
//   - RequestEvent:   Telemetry data for each request
//   - SecurityEvent:  Blocks, auth rejections and oracle failure policies
//   - InitEvent:      Startup configuration snapshot
package monitoring

import "time"

// =============================================================================
// OUTCOMES - Terminal request results
// =============================================================================

// Outcome is the terminal result of one gateway request.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeBlocked            Outcome = "blocked"
	OutcomeUnauthenticated    Outcome = "unauthenticated"
	OutcomeForbidden          Outcome = "forbidden"
	OutcomeInvalid            Outcome = "invalid"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeOracleUnavailable  Outcome = "oracle_unavailable"
	OutcomeUnavailable        Outcome = "unavailable"
	OutcomeUpstreamFailed     Outcome = "upstream_failed"
	OutcomeTimedOut           Outcome = "timed_out"
	OutcomeClientDisconnected Outcome = "client_disconnected"
)

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// RequestEvent captures a request through the gateway. It never carries
// request or response text.
type RequestEvent struct {
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	ClientIP       string    `json:"client_ip"`
	Transport      string    `json:"transport"` // sse, buffered, websocket
	SessionKey     string    `json:"session_key,omitempty"`
	InputChars     int       `json:"input_chars"`
	Outcome        Outcome   `json:"outcome"`
	StatusCode     int       `json:"status_code"`
	Verdict        string    `json:"verdict,omitempty"`
	Redacted       bool      `json:"redacted"`
	BreakerState   string    `json:"breaker_state,omitempty"`
	BytesStreamed  int64     `json:"bytes_streamed"`
	OutputTokens   int       `json:"output_tokens"`
	PipelineMs     int64     `json:"pipeline_latency_ms"`
	FirstByteMs    int64     `json:"first_byte_latency_ms,omitempty"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	Error          string    `json:"error,omitempty"`
}

// SecurityEventType classifies a SecurityEvent.
type SecurityEventType string

const (
	SecurityAuthRejected   SecurityEventType = "auth_rejected"
	SecurityGuardrailBlock SecurityEventType = "guardrail_block"
	SecurityPolicyFired    SecurityEventType = "oracle_policy_fired"
	SecurityRateLimited    SecurityEventType = "rate_limited"
)

// SecurityEvent is a security-relevant decision. Category is the coarse
// reason; Rule is the internal rule id and is only ever written here.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      SecurityEventType `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	Identity  string            `json:"identity,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Category  string            `json:"category,omitempty"`
	Rule      string            `json:"rule,omitempty"`
	Oracle    string            `json:"oracle,omitempty"`
	Policy    string            `json:"policy,omitempty"`
	Detail    string            `json:"detail,omitempty"`
}

// InitEvent captures gateway startup configuration.
type InitEvent struct {
	Timestamp          time.Time `json:"timestamp"`
	Event              string    `json:"event"`
	Version            string    `json:"version"`
	ServerPort         int       `json:"server_port"`
	MaxInputChars      int       `json:"max_input_chars"`
	RequestTimeoutMs   int64     `json:"request_timeout_ms"`
	IdentityMode       string    `json:"identity_mode"`
	EntitlementMode    string    `json:"entitlement_mode"`
	ScreenRules        int       `json:"screen_rules"`
	RedactorBackend    string    `json:"redactor_backend"`
	RedactorPolicy     string    `json:"redactor_policy"`
	RedactorWorkers    int       `json:"redactor_workers"`
	ClassifierBackend  string    `json:"classifier_backend"`
	ClassifierPolicy   string    `json:"classifier_policy"`
	DownstreamHost     string    `json:"downstream_host"`
	SigV4Enabled       bool      `json:"sigv4_enabled"`
	BreakerRatio       float64   `json:"breaker_failure_ratio"`
	BreakerCoolDownMs  int64     `json:"breaker_cool_down_ms"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute,omitempty"`
	HistoryEnabled     bool      `json:"history_enabled"`
	MetricsEnabled     bool      `json:"metrics_enabled"`
	TracingEnabled     bool      `json:"tracing_enabled"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}
