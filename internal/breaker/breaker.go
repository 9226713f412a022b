// Package breaker guards calls to the downstream generation service.
//
// DESIGN: A failure-ratio circuit breaker with three states:
//   - CLOSED:    attempts pass through; outcomes are counted in a rolling window
//   - OPEN:      attempts are short-circuited to the fallback until the cool-down elapses
//   - HALF_OPEN: exactly one probe attempt is admitted; its outcome closes or reopens
//
// The breaker is a plain value owned by the composition root and shared by
// reference. All transitions happen under one mutex.
//
// Callers obtain an *Attempt from Allow and must settle it exactly once with
// Success, Failure or Abandon. Outcomes of attempts admitted under an earlier
// state epoch never drive transitions of a later epoch.
package breaker

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the attempt is short-circuited.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// StateClosed lets attempts through and counts their outcomes.
	StateClosed State = iota
	// StateOpen rejects all attempts until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits a single probe attempt.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// DefaultFallbackMessage is the body served when the downstream is unavailable.
const DefaultFallbackMessage = "The assistant is temporarily unavailable. Please try again shortly."

// Config holds circuit breaker settings.
type Config struct {
	FailureRatio     float64       `yaml:"failure_ratio"`      // Open once failures/attempts is at or above this ratio
	MinRequests      int           `yaml:"min_requests"`       // Attempts required in the window before the ratio counts
	Window           time.Duration `yaml:"window"`             // Rolling accounting horizon
	Buckets          int           `yaml:"buckets"`            // Window granularity
	CoolDown         time.Duration `yaml:"cool_down"`          // OPEN -> HALF_OPEN delay
	FirstByteTimeout time.Duration `yaml:"first_byte_timeout"` // An attempt slower than this to produce a stream is a failure
	FallbackMessage  string        `yaml:"fallback_message"`
}

// DefaultConfig returns the standard breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureRatio:     0.5,
		MinRequests:      5,
		Window:           60 * time.Second,
		Buckets:          6,
		CoolDown:         30 * time.Second,
		FirstByteTimeout: 20 * time.Second,
		FallbackMessage:  DefaultFallbackMessage,
	}
}

// Validate checks breaker configuration.
func (c *Config) Validate() error {
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		return fmt.Errorf("breaker.failure_ratio must be in (0, 1], got %f", c.FailureRatio)
	}
	if c.MinRequests < 1 {
		return fmt.Errorf("breaker.min_requests must be >= 1, got %d", c.MinRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("breaker.window must be > 0, got %s", c.Window)
	}
	if c.Buckets < 1 {
		return fmt.Errorf("breaker.buckets must be >= 1, got %d", c.Buckets)
	}
	if c.CoolDown <= 0 {
		return fmt.Errorf("breaker.cool_down must be > 0, got %s", c.CoolDown)
	}
	if c.FirstByteTimeout < 0 {
		return fmt.Errorf("breaker.first_byte_timeout must be >= 0, got %s", c.FirstByteTimeout)
	}
	return nil
}

// FallbackResponse is the fixed reply for short-circuited or failed attempts.
type FallbackResponse struct {
	Status  int
	Code    string
	Message string
}

// Stats is a point-in-time snapshot of the breaker.
type Stats struct {
	State           State
	Successes       int
	Failures        int
	NextProbeAt     time.Time
	LastStateChange time.Time
	Transitions     int64
}

// FailureRatio returns failures over attempts in the current window.
func (s Stats) FailureRatio() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Failures) / float64(total)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChangeHook registers a callback invoked after every transition.
// The hook runs with the breaker lock released.
func WithStateChangeHook(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// Breaker is a failure-ratio circuit breaker. Safe for concurrent use.
type Breaker struct {
	config        Config
	now           func() time.Time
	onStateChange func(from, to State)
	bucketWidth   time.Duration

	mu              sync.Mutex
	state           State
	epoch           uint64
	buckets         []bucket
	nextProbeAt     time.Time
	probeInFlight   bool
	lastStateChange time.Time
	transitions     int64
}

// New creates a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	if cfg.Buckets < 1 {
		cfg.Buckets = 1
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = DefaultFallbackMessage
	}
	b := &Breaker{
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.bucketWidth = cfg.Window / time.Duration(cfg.Buckets)
	if b.bucketWidth <= 0 {
		b.bucketWidth = time.Nanosecond
	}
	b.buckets = make([]bucket, cfg.Buckets)
	b.lastStateChange = b.now()
	return b
}

// Config returns the breaker configuration.
func (b *Breaker) Config() Config {
	return b.config
}

// Allow admits or rejects an attempt. On ErrOpen no downstream call may be made.
func (b *Breaker) Allow() (*Attempt, error) {
	b.mu.Lock()
	now := b.now()
	from, changed := b.advance(now)

	var (
		attempt *Attempt
		err     error
	)
	switch b.state {
	case StateClosed:
		attempt = &Attempt{breaker: b, epoch: b.epoch}
	case StateHalfOpen:
		if b.probeInFlight {
			err = ErrOpen
		} else {
			b.probeInFlight = true
			attempt = &Attempt{breaker: b, epoch: b.epoch, probe: true}
		}
	default:
		err = ErrOpen
	}
	to := b.state
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
	return attempt, err
}

// State returns the current state, applying a due OPEN -> HALF_OPEN transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, changed := b.advance(b.now())
	to := b.state
	b.mu.Unlock()
	if changed {
		b.notify(from, to)
	}
	return to
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	now := b.now()
	from, changed := b.advance(now)
	successes, failures := b.windowTotals(now)
	s := Stats{
		State:           b.state,
		Successes:       successes,
		Failures:        failures,
		NextProbeAt:     b.nextProbeAt,
		LastStateChange: b.lastStateChange,
		Transitions:     b.transitions,
	}
	b.mu.Unlock()
	if changed {
		b.notify(from, s.State)
	}
	return s
}

// Fallback returns the fixed unavailable response. It never blocks.
func (b *Breaker) Fallback() FallbackResponse {
	return FallbackResponse{
		Status:  http.StatusServiceUnavailable,
		Code:    "service_unavailable",
		Message: b.config.FallbackMessage,
	}
}

// Reset forces the breaker closed and clears the window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.transitionTo(StateClosed, b.now())
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// advance applies a due OPEN -> HALF_OPEN transition. Caller holds mu.
func (b *Breaker) advance(now time.Time) (State, bool) {
	if b.state == StateOpen && !now.Before(b.nextProbeAt) {
		from := b.state
		b.transitionTo(StateHalfOpen, now)
		return from, true
	}
	return b.state, false
}

// transitionTo switches state and starts a new epoch. Caller holds mu.
func (b *Breaker) transitionTo(state State, now time.Time) {
	b.state = state
	b.epoch++
	b.transitions++
	b.lastStateChange = now
	b.probeInFlight = false
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
	if state == StateOpen {
		b.nextProbeAt = now.Add(b.config.CoolDown)
	} else {
		b.nextProbeAt = time.Time{}
	}
}

func (b *Breaker) settle(a *Attempt, success bool) {
	b.mu.Lock()
	now := b.now()
	from := b.state
	changed := false

	if a.epoch == b.epoch {
		switch b.state {
		case StateClosed:
			b.record(now, success)
			if b.shouldTrip(now) {
				b.transitionTo(StateOpen, now)
				changed = true
			}
		case StateHalfOpen:
			if a.probe {
				if success {
					b.transitionTo(StateClosed, now)
				} else {
					b.transitionTo(StateOpen, now)
				}
				changed = true
			}
		}
	}
	to := b.state
	b.mu.Unlock()

	if changed {
		b.notify(from, to)
	}
}

func (b *Breaker) abandon(a *Attempt) {
	b.mu.Lock()
	if a.probe && a.epoch == b.epoch && b.state == StateHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

// record adds an outcome to the current bucket. Caller holds mu.
func (b *Breaker) record(now time.Time, success bool) {
	start := now.Truncate(b.bucketWidth)
	idx := int((start.UnixNano() / int64(b.bucketWidth)) % int64(len(b.buckets)))
	if !b.buckets[idx].start.Equal(start) {
		b.buckets[idx] = bucket{start: start}
	}
	if success {
		b.buckets[idx].successes++
	} else {
		b.buckets[idx].failures++
	}
}

// windowTotals sums buckets inside the rolling window. Caller holds mu.
func (b *Breaker) windowTotals(now time.Time) (successes, failures int) {
	horizon := now.Add(-b.config.Window)
	for _, bk := range b.buckets {
		if bk.start.IsZero() || !bk.start.After(horizon) {
			continue
		}
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

// shouldTrip reports whether the window holds at least MinRequests attempts
// with a failure ratio at or above FailureRatio.
func (b *Breaker) shouldTrip(now time.Time) bool {
	successes, failures := b.windowTotals(now)
	total := successes + failures
	if total < b.config.MinRequests {
		return false
	}
	return float64(failures)/float64(total) >= b.config.FailureRatio
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}

// =============================================================================
// Attempt
// =============================================================================

// Attempt is one admitted call. Settle it exactly once; later calls are no-ops.
type Attempt struct {
	breaker *Breaker
	epoch   uint64
	probe   bool
	once    sync.Once
}

// IsProbe reports whether this attempt is the single HALF_OPEN probe.
func (a *Attempt) IsProbe() bool { return a.probe }

// Success records that the attempt established a usable stream.
func (a *Attempt) Success() {
	a.once.Do(func() { a.breaker.settle(a, true) })
}

// Failure records a connection error, non-2xx status or timeout.
func (a *Attempt) Failure() {
	a.once.Do(func() { a.breaker.settle(a, false) })
}

// Abandon releases the attempt without an outcome, e.g. when the caller left
// before the downstream answered.
func (a *Attempt) Abandon() {
	a.once.Do(func() { a.breaker.abandon(a) })
}
