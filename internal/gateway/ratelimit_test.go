package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, perMinute, burst int) (*rateLimiter, *time.Time) {
	t.Helper()
	l := newRateLimiter(perMinute, burst, time.Minute)
	t.Cleanup(l.Stop)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(t, 60, 2)

	assert.True(t, l.Allow("identity:alice"))
	assert.True(t, l.Allow("identity:alice"))
	assert.False(t, l.Allow("identity:alice"))
	assert.True(t, l.Exhausted("identity:alice"))

	*now = now.Add(time.Second)
	assert.False(t, l.Exhausted("identity:alice"))
	assert.True(t, l.Allow("identity:alice"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1)

	assert.True(t, l.Allow("identity:alice"))
	assert.False(t, l.Allow("identity:alice"))
	assert.True(t, l.Allow("identity:bob"))
	assert.False(t, l.Exhausted("addr:10.0.0.1"), "unknown keys are never exhausted")
}

func TestRateLimiter_IdleBucketsExpire(t *testing.T) {
	l, now := newTestLimiter(t, 1, 1)

	l.Allow("addr:10.0.0.1")
	l.Allow("addr:10.0.0.2")
	assert.Equal(t, 2, l.Len())

	*now = now.Add(2 * time.Minute)
	l.mu.Lock()
	l.cleanupLocked(l.now())
	l.mu.Unlock()
	assert.Equal(t, 0, l.Len())
}

func TestRateLimiter_NilIsUnlimited(t *testing.T) {
	var l *rateLimiter
	assert.True(t, l.Allow("identity:alice"))
	assert.False(t, l.Exhausted("identity:alice"))
	l.Stop()
}
