// Package config loads and validates gateway configuration.
//
// DESIGN: One YAML document, expanded for ${VAR} / ${VAR:-default} before
// parsing, decoded over Default() so omitted fields keep their defaults.
//
// FILES:
//   - config.go:   Config tree, loading, validation
//   - env.go:      environment expansion
//   - defaults.go: default values
//   - breaker.go:  circuit breaker config re-export
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Oracle modes.
const (
	ModeStatic = "static"
	ModeHTTP   = "http"
	ModeSQLite = "sqlite"
	ModeLocal  = "local"
	ModeLLM    = "llm"
)

// Failure policies for guardrail oracles.
const (
	PolicyFailOpen   = "fail_open"
	PolicyFailClosed = "fail_closed"
	PolicyFailMasked = "fail_masked"
)

// Config is the root gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Downstream DownstreamConfig `yaml:"downstream"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
	Store      StoreConfig      `yaml:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// =============================================================================
// SECTIONS
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"` // Whole request, stream included
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxInputChars   int           `yaml:"max_input_chars"`
	MaxResponseSize int           `yaml:"max_response_size"` // Bytes of response text kept for history and /v1/chat
}

// AuthConfig configures the identity and entitlement oracles.
type AuthConfig struct {
	Identity    IdentityConfig    `yaml:"identity"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
}

// IdentityConfig configures identity assertion verification.
type IdentityConfig struct {
	Mode    string            `yaml:"mode"` // static | http
	URL     string            `yaml:"url"`
	APIKey  string            `yaml:"api_key"`
	Timeout time.Duration     `yaml:"timeout"`
	Tokens  map[string]string `yaml:"tokens"` // static: token -> identity
}

// EntitlementConfig configures the entitlement lookup.
type EntitlementConfig struct {
	Mode     string        `yaml:"mode"` // static | http | sqlite
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // 0 disables caching
	Entitled []string      `yaml:"entitled"`  // static: entitled identities
}

// GuardrailsConfig configures the threat-detection pipeline.
type GuardrailsConfig struct {
	Screen     ScreenConfig     `yaml:"screen"`
	Redactor   RedactorConfig   `yaml:"redactor"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

// ScreenConfig configures the fast pattern screen.
type ScreenConfig struct {
	RulesFile string `yaml:"rules_file"` // Empty uses the embedded rule set
}

// RedactorConfig configures the sensitive-data redactor and its worker pool.
type RedactorConfig struct {
	Backend       string        `yaml:"backend"` // local | http
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	Workers       int           `yaml:"workers"`
	QueueDepth    int           `yaml:"queue_depth"`
	FailurePolicy string        `yaml:"failure_policy"` // fail_open | fail_closed | fail_masked
}

// ClassifierConfig configures the intent classifier.
type ClassifierConfig struct {
	Backend       string        `yaml:"backend"` // http | llm
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	Provider      string        `yaml:"provider"` // llm: openai | anthropic | gemini
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	FailurePolicy string        `yaml:"failure_policy"` // fail_open | fail_closed
}

// DownstreamConfig configures the generation service.
type DownstreamConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	SigV4   SigV4Config   `yaml:"sigv4"`
}

// SigV4Config enables AWS request signing for AWS-hosted generation services.
type SigV4Config struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Service string `yaml:"service"`
}

// RateLimitConfig configures per-identity rate limiting.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute"`
	Burst     int  `yaml:"burst"`
}

// CORSConfig restricts browser origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path           string `yaml:"path"`
	HistoryEnabled bool   `yaml:"history_enabled"`
}

// MonitoringConfig configures logs, metrics and traces.
type MonitoringConfig struct {
	LogLevel        string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat       string `yaml:"log_format"` // console | json
	SecurityLogPath string `yaml:"security_log_path"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns a configuration that runs locally with in-process oracles.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     DefaultServerReadTimeout,
			WriteTimeout:    DefaultServerWriteTimeout,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxInputChars:   DefaultMaxInputChars,
			MaxResponseSize: MaxResponseSize,
		},
		Auth: AuthConfig{
			Identity: IdentityConfig{
				Mode:    ModeStatic,
				Timeout: DefaultOracleTimeout,
			},
			Entitlement: EntitlementConfig{
				Mode:     ModeSQLite,
				Timeout:  DefaultOracleTimeout,
				CacheTTL: DefaultEntitlementCacheTTL,
			},
		},
		Guardrails: GuardrailsConfig{
			Redactor: RedactorConfig{
				Backend:       ModeLocal,
				Timeout:       DefaultOracleTimeout,
				Workers:       DefaultRedactorWorkers,
				QueueDepth:    DefaultRedactorQueueDepth,
				FailurePolicy: DefaultFailurePolicy,
			},
			Classifier: ClassifierConfig{
				Backend:       ModeHTTP,
				Provider:      "openai",
				MaxTokens:     DefaultJudgeMaxTokens,
				Timeout:       DefaultOracleTimeout,
				FailurePolicy: DefaultFailurePolicy,
			},
		},
		Breaker: DefaultBreakerConfig(),
		Downstream: DownstreamConfig{
			Timeout: DefaultDownstreamTimeout,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerMinute: DefaultRateLimitPerMinute,
			Burst:     DefaultRateLimitPerMinute,
		},
		Store: StoreConfig{
			Path:           DefaultStorePath,
			HistoryEnabled: true,
		},
		Monitoring: MonitoringConfig{
			LogLevel:       "info",
			LogFormat:      "console",
			MetricsEnabled: true,
		},
	}
}

// Load reads a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML config after environment expansion and validates it.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	expanded := ExpandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxInputChars <= 0 {
		return fmt.Errorf("server.max_input_chars must be > 0, got %d", c.Server.MaxInputChars)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0, got %s", c.Server.RequestTimeout)
	}
	if c.Server.MaxResponseSize <= 0 {
		return fmt.Errorf("server.max_response_size must be > 0, got %d", c.Server.MaxResponseSize)
	}

	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateGuardrails(); err != nil {
		return err
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}

	if c.Downstream.URL == "" {
		return fmt.Errorf("downstream.url is required")
	}
	if err := validateURL("downstream.url", c.Downstream.URL); err != nil {
		return err
	}
	if c.Downstream.SigV4.Enabled && c.Downstream.SigV4.Region == "" {
		return fmt.Errorf("downstream.sigv4.region is required when sigv4 is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be > 0 when enabled, got %d", c.RateLimit.PerMinute)
	}
	if c.Auth.Entitlement.Mode == ModeSQLite || c.Store.HistoryEnabled {
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite entitlements or history")
		}
	}
	switch c.Monitoring.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("monitoring.log_format must be console or json, got %q", c.Monitoring.LogFormat)
	}
	return nil
}

func (c *Config) validateAuth() error {
	id := c.Auth.Identity
	switch id.Mode {
	case ModeStatic:
		for token, identity := range id.Tokens {
			if strings.TrimSpace(token) == "" || strings.TrimSpace(identity) == "" {
				return fmt.Errorf("auth.identity.tokens entries must have a token and an identity")
			}
		}
	case ModeHTTP:
		if err := validateURL("auth.identity.url", id.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("auth.identity.mode must be static or http, got %q", id.Mode)
	}

	ent := c.Auth.Entitlement
	switch ent.Mode {
	case ModeStatic, ModeSQLite:
	case ModeHTTP:
		if err := validateURL("auth.entitlement.url", ent.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("auth.entitlement.mode must be static, http or sqlite, got %q", ent.Mode)
	}
	if ent.CacheTTL < 0 {
		return fmt.Errorf("auth.entitlement.cache_ttl must be >= 0, got %s", ent.CacheTTL)
	}
	return nil
}

func (c *Config) validateGuardrails() error {
	r := c.Guardrails.Redactor
	switch r.Backend {
	case ModeLocal:
	case ModeHTTP:
		if err := validateURL("guardrails.redactor.url", r.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("guardrails.redactor.backend must be local or http, got %q", r.Backend)
	}
	if r.Workers < 1 {
		return fmt.Errorf("guardrails.redactor.workers must be >= 1, got %d", r.Workers)
	}
	if r.QueueDepth < 0 {
		return fmt.Errorf("guardrails.redactor.queue_depth must be >= 0, got %d", r.QueueDepth)
	}
	switch r.FailurePolicy {
	case PolicyFailOpen, PolicyFailClosed, PolicyFailMasked:
	default:
		return fmt.Errorf("guardrails.redactor.failure_policy must be fail_open, fail_closed or fail_masked, got %q", r.FailurePolicy)
	}

	cl := c.Guardrails.Classifier
	switch cl.Backend {
	case ModeHTTP:
		if err := validateURL("guardrails.classifier.url", cl.URL); err != nil {
			return err
		}
	case ModeLLM:
		if err := validateURL("guardrails.classifier.url", cl.URL); err != nil {
			return err
		}
		switch cl.Provider {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("guardrails.classifier.provider must be openai, anthropic or gemini, got %q", cl.Provider)
		}
		if cl.Model == "" {
			return fmt.Errorf("guardrails.classifier.model is required for the llm backend")
		}
	default:
		return fmt.Errorf("guardrails.classifier.backend must be http or llm, got %q", cl.Backend)
	}
	switch cl.FailurePolicy {
	case PolicyFailOpen, PolicyFailClosed:
	default:
		return fmt.Errorf("guardrails.classifier.failure_policy must be fail_open or fail_closed, got %q", cl.FailurePolicy)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
	return nil
}
