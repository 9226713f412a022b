package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/guard-gateway/internal/config"
)

func TestLoadConfig_ExampleFile(t *testing.T) {
	t.Setenv("DOWNSTREAM_URL", "https://gen.internal/v1/generate")

	cfg, err := loadConfig("../configs/gateway.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://gen.internal/v1/generate", cfg.Downstream.URL)
	assert.Equal(t, config.PolicyFailMasked, cfg.Guardrails.Redactor.FailurePolicy)
	assert.Equal(t, []string{"dev@example.com"}, cfg.Auth.Entitlement.Entitled)
}

func TestLoadConfig_DefaultsNeedDownstream(t *testing.T) {
	_, err := loadConfig("")
	assert.Error(t, err)
}

func TestSetupLogging_JSON(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setupLogging(config.MonitoringConfig{LogLevel: "warn", LogFormat: "json"}, false, &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("component", "breaker").Msg("kept")

	line := bytes.TrimSpace(buf.Bytes())
	assert.Equal(t, "kept", gjson.GetBytes(line, "message").String())
	assert.Equal(t, "breaker", gjson.GetBytes(line, "component").String())
	assert.NotContains(t, buf.String(), "dropped")
}

func TestSetupLogging_DebugOverridesLevel(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	setupLogging(config.MonitoringConfig{LogLevel: "error", LogFormat: "json"}, true, &buf)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
