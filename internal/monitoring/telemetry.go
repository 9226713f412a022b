// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - SecurityEvent: blocks, auth rejections, oracle failure policies (LogPath)
//   - RequestEvent:  every request through the gateway (requests.jsonl)
//   - InitEvent:     gateway startup snapshot (init.jsonl)
//
// Events are appended to files immediately after each event for real-time logging.
// Security events are always mirrored to the structured logger at warn level.
package monitoring

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/guard-gateway/internal/utils"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config          TelemetryConfig
	securityLogPath string
	requestLogPath  string
	initLogPath     string
	securityCount   int
	requestCount    int
	mu              sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{
		config: cfg,
	}

	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	dir := filepath.Dir(cfg.LogPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	t.securityLogPath = cfg.LogPath
	t.requestLogPath = filepath.Join(dir, "requests.jsonl")
	t.initLogPath = filepath.Join(dir, "init.jsonl")

	for _, path := range []string{t.securityLogPath, t.requestLogPath, t.initLogPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if f, err := os.Create(path); err == nil { // #nosec G304 -- operator-supplied log dir
				_ = f.Close()
			}
		}
	}

	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := utils.MarshalNoEscape(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- operator-supplied log path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}

// RecordSecurity records a security event. It is logged even when file
// telemetry is disabled.
func (t *Tracker) RecordSecurity(event *SecurityEvent) {
	if event == nil {
		return
	}

	log.Warn().
		Str("security_event", string(event.Type)).
		Str("request_id", event.RequestID).
		Str("stage", event.Stage).
		Str("category", event.Category).
		Str("oracle", event.Oracle).
		Str("policy", event.Policy).
		Msg("security")

	if t == nil || t.securityLogPath == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.securityLogPath, event); err != nil {
		log.Error().Err(err).Str("path", t.securityLogPath).Msg("telemetry: failed to write security event")
	} else {
		t.securityCount++
	}
}

// RecordRequest records a request event.
func (t *Tracker) RecordRequest(event *RequestEvent) {
	if t == nil || !t.config.Enabled || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Log summary to stdout if enabled
	if t.config.LogToStdout {
		reqID := event.RequestID
		if len(reqID) > 8 {
			reqID = reqID[:8]
		}
		log.Info().
			Str("request_id", reqID).
			Str("outcome", string(event.Outcome)).
			Int("status", event.StatusCode).
			Int64("bytes", event.BytesStreamed).
			Msg("telemetry")
	}

	if t.requestLogPath != "" {
		if err := appendJSONL(t.requestLogPath, event); err != nil {
			log.Error().Err(err).Str("path", t.requestLogPath).Msg("telemetry: failed to write request event")
		} else {
			t.requestCount++
		}
	}
}

// RecordInit records a gateway initialization event to a dedicated init JSONL.
func (t *Tracker) RecordInit(event *InitEvent) {
	if t == nil || t.initLogPath == "" || event == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := appendJSONL(t.initLogPath, event); err != nil {
		log.Error().Err(err).Str("path", t.initLogPath).Msg("telemetry: failed to write init event")
	}
}

// Close logs a session summary.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.securityLogPath != "" {
		log.Info().
			Str("path", t.securityLogPath).
			Int("security_events", t.securityCount).
			Int("request_events", t.requestCount).
			Msg("telemetry: session complete")
	}

	return nil
}
