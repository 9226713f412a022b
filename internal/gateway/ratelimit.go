package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/compresr/guard-gateway/internal/config"
)

// rateLimiter keeps one token bucket per key (authorized identity, or client
// address for callers that have not authenticated yet).
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute, burst int, ttl time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	if ttl <= 0 {
		ttl = config.DefaultLimiterTTL
	}
	l := &rateLimiter{
		buckets: make(map[string]*limiterEntry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow consumes one token for key.
func (l *rateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(key)
	if e == nil {
		return false
	}
	return e.limiter.AllowN(e.lastSeen, 1)
}

// Exhausted reports whether key has no tokens left, without consuming one.
func (l *rateLimiter) Exhausted(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[key]
	if !ok {
		return false
	}
	return e.limiter.TokensAt(l.now()) < 1
}

// entry returns the bucket for key, creating it when there is room.
// Callers hold l.mu.
func (l *rateLimiter) entry(key string) *limiterEntry {
	now := l.now()
	e, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= config.MaxRateLimitBuckets {
			l.cleanupLocked(now)
			if len(l.buckets) >= config.MaxRateLimitBuckets {
				return nil
			}
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = e
	}
	e.lastSeen = now
	return e
}

func (l *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(config.DefaultCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.cleanupLocked(l.now())
			l.mu.Unlock()
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *rateLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopped.Do(func() { close(l.stopCh) })
}

func (l *rateLimiter) cleanupLocked(now time.Time) {
	for key, e := range l.buckets {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of live buckets.
func (l *rateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
