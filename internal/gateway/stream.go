package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/compresr/guard-gateway/internal/breaker"
	"github.com/compresr/guard-gateway/internal/downstream"
	"github.com/compresr/guard-gateway/internal/monitoring"
)

// streamResult describes a relay that got past the first chunk.
type streamResult struct {
	Outcome   monitoring.Outcome
	Bytes     int64
	Tokens    int
	FirstByte time.Duration
	Text      string
	Truncated bool // Text stopped at server.max_response_size
}

// relay calls the generation service through the breaker and copies chunks
// into out as they arrive.
//
// An error return means nothing was written to out: the breaker was open,
// the call failed or timed out before a first chunk, or the client left.
// Once the first chunk is relayed the call counts as a success for the
// breaker, and later failures are reported through out.Fail instead.
func (g *Gateway) relay(ctx context.Context, ex *exchange, out sink) (streamResult, error) {
	ctx, span := tracer.Start(ctx, "gateway.relay")
	defer span.End()

	attempt, err := g.breaker.Allow()
	if err != nil {
		span.SetStatus(codes.Error, "breaker open")
		log.Warn().
			Str("request_id", ex.requestID).
			Str("state", g.breaker.State().String()).
			Msg("downstream short-circuited")
		return streamResult{}, fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
	}
	span.SetAttributes(attribute.Bool("breaker.probe", attempt.IsProbe()))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The first-byte timer cancels only the call; the request deadline keeps
	// running on ctx.
	var expired atomic.Bool
	firstByteTimeout := g.breaker.Config().FirstByteTimeout
	var timer *time.Timer
	if firstByteTimeout > 0 {
		timer = time.AfterFunc(firstByteTimeout, func() {
			expired.Store(true)
			cancel()
		})
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	g.activeStreams.Add(1)
	defer g.activeStreams.Add(-1)

	start := time.Now()
	stream, err := g.downstream.Open(streamCtx, downstream.Request{
		Payload:    ex.decision.Verdict.Payload(),
		SessionKey: ex.sessionKey.String(),
		RequestID:  ex.requestID,
	})
	if err != nil {
		stopTimer()
		return streamResult{}, g.settleEarly(ctx, ex, attempt, expired.Load(), err)
	}
	defer func() { _ = stream.Close() }()

	chunk, err := stream.Next()
	stopTimer()
	if expired.Load() || (err != nil && !errors.Is(err, io.EOF)) {
		return streamResult{}, g.settleEarly(ctx, ex, attempt, expired.Load(), err)
	}
	attempt.Success()

	res := streamResult{FirstByte: time.Since(start)}
	g.metrics.RecordFirstByte(res.FirstByte)
	span.SetAttributes(attribute.Int64("first_byte_ms", res.FirstByte.Milliseconds()))

	limit := g.config.Server.MaxResponseSize
	var text strings.Builder
	for err == nil {
		if werr := out.Chunk(chunk); werr != nil {
			log.Debug().Err(werr).Str("request_id", ex.requestID).Msg("client disconnected")
			cancel()
			res.Outcome = monitoring.OutcomeClientDisconnected
			break
		}
		res.Bytes += int64(len(chunk))
		switch {
		case res.Truncated:
		case text.Len()+len(chunk) <= limit:
			text.Write(chunk)
		default:
			res.Truncated = true
			log.Warn().Str("request_id", ex.requestID).Int("limit", limit).Msg("response text truncated")
		}
		chunk, err = stream.Next()
	}

	res.Text = text.String()
	res.Tokens = g.tokens.Count(res.Text)
	if res.Outcome == "" {
		res.Outcome = g.terminate(ctx, ex, out, res, err)
	}
	g.metrics.RecordStream(res.Bytes, res.Tokens)
	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int64("bytes", res.Bytes),
	)
	return res, nil
}

// terminate sends the terminal frame for a stream that ended with err.
func (g *Gateway) terminate(ctx context.Context, ex *exchange, out sink, res streamResult, err error) monitoring.Outcome {
	switch {
	case errors.Is(err, io.EOF):
		if derr := out.Done(res.Bytes, res.Tokens); derr != nil {
			return monitoring.OutcomeClientDisconnected
		}
		return monitoring.OutcomeCompleted
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn().Str("request_id", ex.requestID).Int64("bytes", res.Bytes).Msg("stream timed out")
		_ = out.Fail(string(monitoring.OutcomeTimedOut), "the response exceeded the request time limit")
		return monitoring.OutcomeTimedOut
	case ctx.Err() != nil:
		return monitoring.OutcomeClientDisconnected
	default:
		log.Warn().Err(err).Str("request_id", ex.requestID).Int64("bytes", res.Bytes).Msg("stream ended early")
		_ = out.Fail(string(monitoring.OutcomeUpstreamFailed), "the response ended before completion")
		return monitoring.OutcomeUpstreamFailed
	}
}

// settleEarly settles an attempt that never produced a chunk and returns the
// error the caller should see.
func (g *Gateway) settleEarly(ctx context.Context, ex *exchange, attempt *breaker.Attempt, expired bool, err error) error {
	switch {
	case expired:
		attempt.Failure()
		log.Warn().
			Str("request_id", ex.requestID).
			Dur("timeout", g.breaker.Config().FirstByteTimeout).
			Msg("downstream first byte timeout")
		return fmt.Errorf("%w: no response within %s", ErrDownstreamUnavailable, g.breaker.Config().FirstByteTimeout)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		attempt.Failure()
		return ErrTimeout
	case ctx.Err() != nil:
		attempt.Abandon()
		return ErrClientDisconnected
	default:
		attempt.Failure()
		log.Warn().Err(err).Str("request_id", ex.requestID).Msg("downstream call failed")
		return fmt.Errorf("%w: %v", ErrDownstreamUnavailable, err)
	}
}
