package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
downstream:
  url: http://generation.internal:9000
guardrails:
  classifier:
    url: http://judge.internal:9100
`

func TestLoadFromBytes_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultMaxInputChars, cfg.Server.MaxInputChars)
	assert.Equal(t, MaxResponseSize, cfg.Server.MaxResponseSize)
	assert.Equal(t, ModeStatic, cfg.Auth.Identity.Mode)
	assert.Equal(t, ModeSQLite, cfg.Auth.Entitlement.Mode)
	assert.Equal(t, PolicyFailClosed, cfg.Guardrails.Redactor.FailurePolicy)
	assert.Equal(t, PolicyFailClosed, cfg.Guardrails.Classifier.FailurePolicy)
	assert.Equal(t, DefaultBreakerCoolDown, cfg.Breaker.CoolDown)
	assert.Equal(t, DefaultRateLimitPerMinute, cfg.RateLimit.PerMinute)
}

func TestLoadFromBytes_OverridesAndDurations(t *testing.T) {
	yaml := `
downstream:
  url: http://generation.internal:9000
server:
  port: 9090
  request_timeout: 45s
breaker:
  failure_ratio: 0.25
  cool_down: 2m
guardrails:
  redactor:
    failure_policy: fail_open
    workers: 2
  classifier:
    url: http://judge.internal:9100
    failure_policy: fail_open
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.InDelta(t, 0.25, cfg.Breaker.FailureRatio, 0.0001)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.CoolDown)
	assert.Equal(t, PolicyFailOpen, cfg.Guardrails.Redactor.FailurePolicy)
	assert.Equal(t, 2, cfg.Guardrails.Redactor.Workers)
	assert.Equal(t, DefaultRedactorQueueDepth, cfg.Guardrails.Redactor.QueueDepth)
}

func TestLoadFromBytes_ExpandsEnv(t *testing.T) {
	t.Setenv("GEN_URL", "http://gen.example:7000")
	yaml := `
downstream:
  url: ${GEN_URL}
  api_key: ${GEN_KEY:-fallback-key}
guardrails:
  classifier:
    url: http://judge.internal:9100
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "http://gen.example:7000", cfg.Downstream.URL)
	assert.Equal(t, "fallback-key", cfg.Downstream.APIKey)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing downstream", func(c *Config) { c.Downstream.URL = "" }, "downstream.url"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero response cap", func(c *Config) { c.Server.MaxResponseSize = 0 }, "server.max_response_size"},
		{"empty redactor policy", func(c *Config) { c.Guardrails.Redactor.FailurePolicy = "" }, "redactor.failure_policy"},
		{"masked classifier policy", func(c *Config) { c.Guardrails.Classifier.FailurePolicy = PolicyFailMasked }, "classifier.failure_policy"},
		{"http identity without url", func(c *Config) { c.Auth.Identity.Mode = ModeHTTP }, "auth.identity.url"},
		{"unknown entitlement mode", func(c *Config) { c.Auth.Entitlement.Mode = "ldap" }, "auth.entitlement.mode"},
		{"llm classifier without model", func(c *Config) { c.Guardrails.Classifier.Backend = ModeLLM }, "classifier.model"},
		{"zero workers", func(c *Config) { c.Guardrails.Redactor.Workers = 0 }, "redactor.workers"},
		{"sigv4 without region", func(c *Config) { c.Downstream.SigV4.Enabled = true }, "sigv4.region"},
		{"bad breaker ratio", func(c *Config) { c.Breaker.FailureRatio = 2 }, "breaker.failure_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Downstream.URL = "http://gen.internal"
			cfg.Guardrails.Classifier.URL = "http://judge.internal"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://generation.internal:9000", cfg.Downstream.URL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("SET_VAR", "value")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name, input, expected string
	}{
		{"set", "${SET_VAR}", "value"},
		{"set with default", "${SET_VAR:-other}", "value"},
		{"unset with default", "${UNSET_VAR_XYZ:-fallback}", "fallback"},
		{"empty with default", "${EMPTY_VAR:-fallback}", "fallback"},
		{"unset without default", "a${UNSET_VAR_XYZ}b", "ab"},
		{"no placeholders", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandEnvWithDefaults(tt.input))
		})
	}
}
