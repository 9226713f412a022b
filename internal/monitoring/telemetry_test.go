package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestTracker_WritesAllLogs(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTracker(TelemetryConfig{
		Enabled: true,
		LogPath: filepath.Join(dir, "logs", "security.jsonl"),
	})
	require.NoError(t, err)

	tr.RecordSecurity(&SecurityEvent{
		Timestamp: time.Now(),
		Type:      SecurityGuardrailBlock,
		RequestID: "req-1",
		Stage:     "screen",
		Category:  "sql_injection",
	})
	tr.RecordRequest(&RequestEvent{RequestID: "req-1", Outcome: OutcomeBlocked, StatusCode: 400})
	tr.RecordInit(&InitEvent{Version: "test", ServerPort: 18080})
	require.NoError(t, tr.Close())

	sec := readJSONL(t, filepath.Join(dir, "logs", "security.jsonl"))
	require.Len(t, sec, 1)
	assert.Equal(t, "guardrail_block", sec[0]["type"])
	assert.Equal(t, "sql_injection", sec[0]["category"])

	reqs := readJSONL(t, filepath.Join(dir, "logs", "requests.jsonl"))
	require.Len(t, reqs, 1)
	assert.Equal(t, "blocked", reqs[0]["outcome"])

	inits := readJSONL(t, filepath.Join(dir, "logs", "init.jsonl"))
	require.Len(t, inits, 1)
}

func TestTracker_DisabledAndNil(t *testing.T) {
	tr, err := NewTracker(TelemetryConfig{})
	require.NoError(t, err)
	tr.RecordSecurity(&SecurityEvent{Type: SecurityRateLimited})
	tr.RecordRequest(&RequestEvent{})
	tr.RecordInit(&InitEvent{})
	assert.NoError(t, tr.Close())

	var nilTracker *Tracker
	nilTracker.RecordSecurity(&SecurityEvent{Type: SecurityAuthRejected})
	nilTracker.RecordRequest(&RequestEvent{})
	assert.NoError(t, nilTracker.Close())
}
