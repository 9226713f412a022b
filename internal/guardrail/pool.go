package guardrail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPoolSaturated is returned when every worker is busy and the queue is full.
	ErrPoolSaturated = errors.New("redaction pool saturated")
	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("redaction pool closed")
)

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Capacity  int   `json:"queue_capacity"`
	Queued    int   `json:"queued"`
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}

type poolJob struct {
	ctx    context.Context
	text   string
	result chan poolResult
}

type poolResult struct {
	text string
	err  error
}

// Pool runs a Redactor on a fixed number of workers with a bounded queue.
// Submissions never block: when the queue is full they fail with
// ErrPoolSaturated so callers can apply their failure policy.
type Pool struct {
	redactor Redactor
	workers  int
	jobs     chan poolJob
	group    *errgroup.Group

	mu     sync.RWMutex
	closed bool

	inFlight  atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// NewPool starts workers goroutines reading from a queue of queueDepth slots.
func NewPool(r Redactor, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{
		redactor: r,
		workers:  workers,
		jobs:     make(chan poolJob, queueDepth),
		group:    &errgroup.Group{},
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

// Redact submits text and waits for the result or ctx.
func (p *Pool) Redact(ctx context.Context, text string) (string, error) {
	job := poolJob{ctx: ctx, text: text, result: make(chan poolResult, 1)}

	if err := p.submit(job); err != nil {
		return "", err
	}

	select {
	case res := <-job.result:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pool) submit(job poolJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolSaturated
	}
}

func (p *Pool) work() error {
	for job := range p.jobs {
		if err := job.ctx.Err(); err != nil {
			job.result <- poolResult{err: err}
			continue
		}
		p.inFlight.Add(1)
		out, err := p.redactor.Redact(job.ctx, job.text)
		p.inFlight.Add(-1)
		p.completed.Add(1)
		job.result <- poolResult{text: out, err: err}
	}
	return nil
}

// Close stops accepting work, drains queued jobs and waits for the workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	return p.group.Wait()
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.workers,
		Capacity:  cap(p.jobs),
		Queued:    len(p.jobs),
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
