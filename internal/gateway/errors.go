package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/compresr/guard-gateway/internal/auth"
	"github.com/compresr/guard-gateway/internal/monitoring"
	"github.com/compresr/guard-gateway/internal/oracle"
)

// BlockedMessage is shown to callers whose input was rejected by a guardrail.
const BlockedMessage = "I'm sorry, but I cannot process this request due to security policy violations."

var (
	// ErrInputTooLarge means the message exceeds server.max_input_chars.
	ErrInputTooLarge = errors.New("input too large")

	// ErrInvalidRequest means the payload could not be decoded or validated.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRateLimited means the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrDownstreamUnavailable means the breaker is open or the generation
	// service failed before producing a first chunk.
	ErrDownstreamUnavailable = errors.New("downstream unavailable")

	// ErrClientDisconnected means the caller went away. Nothing is written.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrTimeout means the per-request deadline expired before a verdict or
	// before the first chunk.
	ErrTimeout = errors.New("request timed out")
)

// BlockedError carries the coarse category of a guardrail block.
type BlockedError struct {
	Category string
}

func (e *BlockedError) Error() string {
	return "blocked by guardrail: " + e.Category
}

// apiError is the user-visible rendering of a gateway error.
type apiError struct {
	Status   int
	Code     string
	Message  string
	Category string
	Outcome  monitoring.Outcome
}

// classifyError maps an error from any stage onto the public taxonomy. It
// never exposes matched patterns or oracle internals.
func classifyError(err error) apiError {
	var blocked *BlockedError
	switch {
	case errors.As(err, &blocked):
		return apiError{
			Status:   http.StatusBadRequest,
			Code:     "blocked",
			Message:  BlockedMessage,
			Category: blocked.Category,
			Outcome:  monitoring.OutcomeBlocked,
		}
	case errors.Is(err, auth.ErrUnauthenticated):
		return apiError{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "authentication required", Outcome: monitoring.OutcomeUnauthenticated}
	case errors.Is(err, auth.ErrForbidden):
		return apiError{Status: http.StatusForbidden, Code: "forbidden", Message: "an active subscription is required", Outcome: monitoring.OutcomeForbidden}
	case errors.Is(err, ErrInputTooLarge):
		return apiError{Status: http.StatusRequestEntityTooLarge, Code: "input_too_large", Message: "message is too long", Outcome: monitoring.OutcomeInvalid}
	case errors.Is(err, ErrInvalidRequest):
		return apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: err.Error(), Outcome: monitoring.OutcomeInvalid}
	case errors.Is(err, ErrRateLimited):
		return apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests", Outcome: monitoring.OutcomeRateLimited}
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError{Status: http.StatusGatewayTimeout, Code: "timed_out", Message: "request timed out", Outcome: monitoring.OutcomeTimedOut}
	case errors.Is(err, ErrClientDisconnected), errors.Is(err, context.Canceled):
		return apiError{Status: statusClientClosed, Code: "client_disconnected", Outcome: monitoring.OutcomeClientDisconnected}
	}

	if _, ok := oracle.Which(err); ok {
		return apiError{Status: http.StatusServiceUnavailable, Code: "service_unavailable", Message: "a required security service is unavailable", Outcome: monitoring.OutcomeOracleUnavailable}
	}
	if errors.Is(err, ErrDownstreamUnavailable) {
		return apiError{Status: http.StatusServiceUnavailable, Code: "service_unavailable", Outcome: monitoring.OutcomeUnavailable}
	}
	return apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error", Outcome: monitoring.OutcomeUpstreamFailed}
}

// statusClientClosed is only recorded in telemetry; the client never sees it.
const statusClientClosed = 499

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	return classifyError(err).Status
}
