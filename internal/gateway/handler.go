// HTTP request handling for the streaming gateway.
//
// DESIGN: Main request flow:
//   - authorize():  identity assertion -> AuthorizedIdentity, rate limit
//   - decode():     payload -> chatRequest (validated, size-limited)
//   - evaluate():   guardrail pipeline -> allowed payload or BlockedError
//   - relay():      breaker-gated downstream stream into a sink (stream.go)
//
// Also includes health check, history endpoints and telemetry helpers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/guard-gateway/internal/auth"
	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/guardrail"
	"github.com/compresr/guard-gateway/internal/monitoring"
	"github.com/compresr/guard-gateway/internal/oracle"
	"github.com/compresr/guard-gateway/internal/store"
	"github.com/compresr/guard-gateway/internal/utils"
)

// Transports recorded in telemetry.
const (
	transportSSE       = "sse"
	transportBuffered  = "buffered"
	transportWebSocket = "websocket"
)

// historyWriteTimeout bounds persisting one exchange after the response.
const historyWriteTimeout = 5 * time.Second

// maxLoggedErrorLen bounds the error text kept in request telemetry.
const maxLoggedErrorLen = 256

// sessionIDRule is registered as the "sessionid" validation alias.
var sessionIDRule = fmt.Sprintf("required,max=%d,printascii", config.MaxSessionIDLength)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterAlias("sessionid", sessionIDRule)
	return v
}

// chatRequest is the inbound payload.
type chatRequest struct {
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"session_id" validate:"sessionid"`
}

// exchange is one request from admission to its terminal outcome.
type exchange struct {
	requestID string
	transport string
	method    string
	path      string
	clientIP  string
	startedAt time.Time

	identity   auth.AuthorizedIdentity
	sessionKey auth.SessionKey
	inputChars int
	decision   guardrail.Decision
	evaluated  bool
	pipelineMs int64

	result  streamResult
	outcome monitoring.Outcome
	status  int
	errMsg  string
}

func (g *Gateway) newExchange(r *http.Request, transport string) *exchange {
	return &exchange{
		requestID: g.getRequestID(r),
		transport: transport,
		method:    r.Method,
		path:      r.URL.Path,
		clientIP:  clientIP(r),
		startedAt: time.Now(),
	}
}

// getRequestID gets or generates a request ID.
func (g *Gateway) getRequestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" && len(id) <= 64 {
		return id
	}
	return uuid.New().String()
}

// =============================================================================
// HANDLERS
// =============================================================================

// handleStream relays the generation as server-sent events.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	ex := g.newExchange(r, transportSSE)
	defer g.finish(ex)
	w.Header().Set(HeaderRequestID, ex.requestID)

	ctx, cancel := context.WithTimeout(r.Context(), g.config.Server.RequestTimeout)
	defer cancel()

	if _, err := g.admit(ctx, ex, w, r); err != nil {
		g.fail(w, r, ex, err)
		return
	}

	res, err := g.relay(ctx, ex, newSSESink(w))
	if err != nil {
		g.fail(w, r, ex, err)
		return
	}
	g.complete(ex, res)
}

// handleChat buffers the generation and returns it as one JSON document.
// The response is de-identified with the local redaction rules.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	ex := g.newExchange(r, transportBuffered)
	defer g.finish(ex)
	w.Header().Set(HeaderRequestID, ex.requestID)

	ctx, cancel := context.WithTimeout(r.Context(), g.config.Server.RequestTimeout)
	defer cancel()

	req, err := g.admit(ctx, ex, w, r)
	if err != nil {
		g.fail(w, r, ex, err)
		return
	}

	res, err := g.relay(ctx, ex, discardSink{})
	if err != nil {
		g.fail(w, r, ex, err)
		return
	}
	g.complete(ex, res)

	switch res.Outcome {
	case monitoring.OutcomeCompleted:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"request_id": ex.requestID,
			"session_id": req.SessionID,
			"response":   g.pipeline.RedactOutput(res.Text),
			"redacted":   ex.decision.Verdict.Kind() == guardrail.KindAllowWithRedaction,
			"truncated":  res.Truncated,
			"tokens":     res.Tokens,
		})
	case monitoring.OutcomeTimedOut:
		ex.status = http.StatusGatewayTimeout
		g.writeError(w, apiError{Status: ex.status, Code: "timed_out", Message: "request timed out"})
	case monitoring.OutcomeUpstreamFailed:
		ex.status = http.StatusBadGateway
		g.writeError(w, apiError{Status: ex.status, Code: "upstream_failed", Message: "the response ended before completion"})
	}
}

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": g.version,
		"breaker": g.breaker.State().String(),
	}

	if g.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.store.Ping(ctx); err != nil {
			health["status"] = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// handleHistory returns the caller's stored turns for one conversation.
// Lookups are scoped by the authorized identity, so a reused session_id
// from another account finds nothing.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := g.historyKey(w, r)
	if !ok {
		return
	}

	limit := store.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= store.DefaultHistoryLimit {
			limit = n
		}
	}

	turns, err := g.store.Recent(r.Context(), key.String(), limit)
	if err != nil {
		log.Error().Err(err).Msg("history: read failed")
		g.writeError(w, apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"})
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": r.URL.Query().Get("session_id"),
		"turns":      turns,
	})
}

// handleForget deletes the caller's stored turns for one conversation.
func (g *Gateway) handleForget(w http.ResponseWriter, r *http.Request) {
	key, ok := g.historyKey(w, r)
	if !ok {
		return
	}

	n, err := g.store.Forget(r.Context(), key.String())
	if err != nil {
		log.Error().Err(err).Msg("history: delete failed")
		g.writeError(w, apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"deleted": n})
}

func (g *Gateway) historyKey(w http.ResponseWriter, r *http.Request) (auth.SessionKey, bool) {
	if g.store == nil || !g.config.Store.HistoryEnabled {
		g.writeError(w, apiError{Status: http.StatusNotFound, Code: "not_found", Message: "history is disabled"})
		return "", false
	}

	ex := g.newExchange(r, transportBuffered)
	if err := g.authorize(r.Context(), ex, auth.AssertionFromRequest(r)); err != nil {
		g.writeError(w, classifyError(g.normalize(r.Context(), err)))
		return "", false
	}

	sessionID := r.URL.Query().Get("session_id")
	if err := g.validate.Var(sessionID, "sessionid"); err != nil {
		g.writeError(w, apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: fmt.Sprintf("session_id is required, printable ASCII and at most %d characters", config.MaxSessionIDLength)})
		return "", false
	}
	return ex.identity.SessionKey(sessionID), true
}

// =============================================================================
// ADMISSION
// =============================================================================

// admit runs authorize, decode and evaluate for an HTTP request.
func (g *Gateway) admit(ctx context.Context, ex *exchange, w http.ResponseWriter, r *http.Request) (chatRequest, error) {
	if err := g.authorize(ctx, ex, auth.AssertionFromRequest(r)); err != nil {
		return chatRequest{}, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	req, err := g.decode(r.Body)
	if err != nil {
		return chatRequest{}, err
	}

	return req, g.evaluate(ctx, ex, req)
}

// authorize resolves the caller's identity and applies rate limits.
// Failed attempts drain the client address bucket so assertion guessing is
// throttled before any identity is known.
func (g *Gateway) authorize(ctx context.Context, ex *exchange, assertion string) error {
	addrKey := "addr:" + ex.clientIP
	if g.limiter.Exhausted(addrKey) {
		g.recordSecurity(ex, monitoring.SecurityRateLimited, func(ev *monitoring.SecurityEvent) {
			ev.Detail = "address"
		})
		return ErrRateLimited
	}

	identity, err := g.guard.Authorize(ctx, assertion)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrForbidden):
			g.limiter.Allow(addrKey)
			g.recordSecurity(ex, monitoring.SecurityAuthRejected, func(ev *monitoring.SecurityEvent) {
				ev.Detail = classifyError(err).Code
			})
		default:
			if name, ok := oracle.Which(err); ok {
				g.recordSecurity(ex, monitoring.SecurityPolicyFired, func(ev *monitoring.SecurityEvent) {
					ev.Oracle = name
					ev.Policy = string(guardrail.FailClosed)
				})
			}
		}
		return err
	}
	ex.identity = identity

	if !g.limiter.Allow("identity:" + identity.Subject) {
		g.recordSecurity(ex, monitoring.SecurityRateLimited, func(ev *monitoring.SecurityEvent) {
			ev.Detail = "identity"
		})
		return ErrRateLimited
	}
	return nil
}

// decode reads and validates the payload. Oversized messages are reported
// separately from malformed ones.
func (g *Gateway) decode(body io.Reader) (chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, ErrInputTooLarge
		}
		return req, fmt.Errorf("%w: malformed JSON", ErrInvalidRequest)
	}
	return req, g.check(req)
}

func (g *Gateway) check(req chatRequest) error {
	if err := g.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrInvalidRequest, jsonField(verrs[0].Field()), verrs[0].ActualTag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Message) > g.config.Server.MaxInputChars {
		return ErrInputTooLarge
	}
	return nil
}

func jsonField(field string) string {
	switch field {
	case "SessionID":
		return "session_id"
	case "Message":
		return "message"
	default:
		return strings.ToLower(field)
	}
}

// evaluate runs the guardrail pipeline and turns a block into a BlockedError.
func (g *Gateway) evaluate(ctx context.Context, ex *exchange, req chatRequest) error {
	ex.sessionKey = ex.identity.SessionKey(req.SessionID)
	ex.inputChars = utf8.RuneCountInString(req.Message)

	start := time.Now()
	decision, err := g.pipeline.Evaluate(ctx, req.Message)
	ex.pipelineMs = time.Since(start).Milliseconds()
	ex.decision = decision
	ex.evaluated = err == nil

	for _, fired := range decision.Trace.PoliciesFired {
		name, policy, _ := strings.Cut(fired, ":")
		g.recordSecurity(ex, monitoring.SecurityPolicyFired, func(ev *monitoring.SecurityEvent) {
			ev.Stage = name
			ev.Oracle = name
			ev.Policy = policy
		})
	}
	if err != nil {
		return err
	}

	if !decision.Verdict.Allowed() {
		g.recordSecurity(ex, monitoring.SecurityGuardrailBlock, func(ev *monitoring.SecurityEvent) {
			ev.Category = decision.Verdict.Reason()
			if decision.Trace.Screen.ConclusiveBlock {
				ev.Stage = guardrail.StageScreen
				ev.Rule = decision.Trace.Screen.MatchedReason
			} else {
				ev.Stage = guardrail.StageClassifier
			}
		})
		return &BlockedError{Category: decision.Verdict.Reason()}
	}
	return nil
}

// =============================================================================
// TERMINAL HANDLING
// =============================================================================

// normalize maps context errors onto the taxonomy: the caller's own context
// ending means the client left, anything else is the request deadline.
func (g *Gateway) normalize(parent context.Context, err error) error {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if parent.Err() != nil {
		return ErrClientDisconnected
	}
	return ErrTimeout
}

// fail writes the single terminal error response for ex.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, ex *exchange, err error) {
	err = g.normalize(r.Context(), err)
	ae := classifyError(err)
	ex.outcome = ae.Outcome
	ex.status = ae.Status
	ex.errMsg = err.Error()

	switch {
	case ae.Outcome == monitoring.OutcomeClientDisconnected:
		return
	case errors.Is(err, ErrDownstreamUnavailable):
		g.writeFallback(w)
	default:
		g.writeError(w, ae)
	}
}

// complete records a relay that produced at least a response header.
func (g *Gateway) complete(ex *exchange, res streamResult) {
	ex.result = res
	ex.outcome = res.Outcome
	ex.status = http.StatusOK
	if res.Outcome == monitoring.OutcomeCompleted {
		g.persist(ex, res.Text)
	}
}

// persist stores the allowed payload and the de-identified response under
// the scoped session key. Raw input is never stored.
func (g *Gateway) persist(ex *exchange, response string) {
	if g.store == nil || !g.config.Store.HistoryEnabled || !ex.evaluated {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	key := ex.sessionKey.String()
	if err := g.store.AppendTurn(ctx, key, store.RoleUser, ex.decision.Verdict.Payload()); err != nil {
		log.Error().Err(err).Str("request_id", ex.requestID).Msg("history: append failed")
		return
	}
	if err := g.store.AppendTurn(ctx, key, store.RoleAssistant, g.pipeline.RedactOutput(response)); err != nil {
		log.Error().Err(err).Str("request_id", ex.requestID).Msg("history: append failed")
	}
}

// finish records metrics, telemetry and the request log line.
func (g *Gateway) finish(ex *exchange) {
	if ex.outcome == "" {
		ex.outcome = monitoring.OutcomeCompleted
	}
	g.metrics.RecordOutcome(ex.outcome)

	ev := &monitoring.RequestEvent{
		RequestID:      ex.requestID,
		Timestamp:      ex.startedAt,
		Method:         ex.method,
		Path:           ex.path,
		ClientIP:       ex.clientIP,
		Transport:      ex.transport,
		InputChars:     ex.inputChars,
		Outcome:        ex.outcome,
		StatusCode:     ex.status,
		BreakerState:   g.breaker.State().String(),
		BytesStreamed:  ex.result.Bytes,
		OutputTokens:   ex.result.Tokens,
		PipelineMs:     ex.pipelineMs,
		FirstByteMs:    ex.result.FirstByte.Milliseconds(),
		TotalLatencyMs: msSince(ex.startedAt),
		Error:          utils.Truncate(ex.errMsg, maxLoggedErrorLen),
	}
	if ex.sessionKey != "" {
		ev.SessionKey = ex.sessionKey.String()
	}
	if ex.evaluated {
		ev.Verdict = ex.decision.Verdict.Kind().String()
		ev.Redacted = ex.decision.Verdict.Kind() == guardrail.KindAllowWithRedaction
	}
	g.tracker.RecordRequest(ev)

	log.Info().
		Str("request_id", ex.requestID).
		Str("transport", ex.transport).
		Str("outcome", string(ex.outcome)).
		Int("status", ex.status).
		Int64("bytes", ex.result.Bytes).
		Int64("latency_ms", ev.TotalLatencyMs).
		Msg("request complete")
}

func (g *Gateway) recordSecurity(ex *exchange, typ monitoring.SecurityEventType, fill func(*monitoring.SecurityEvent)) {
	ev := &monitoring.SecurityEvent{
		Timestamp: time.Now(),
		Type:      typ,
		RequestID: ex.requestID,
		Identity:  ex.identity.Subject,
		ClientIP:  ex.clientIP,
	}
	if fill != nil {
		fill(ev)
	}
	g.tracker.RecordSecurity(ev)
}

// =============================================================================
// RESPONSES
// =============================================================================

// writeError writes a JSON error response. Block responses carry only the
// coarse category.
func (g *Gateway) writeError(w http.ResponseWriter, ae apiError) {
	body := map[string]string{
		"message": ae.Message,
		"type":    "gateway_error",
		"code":    ae.Code,
	}
	if ae.Category != "" {
		body["category"] = ae.Category
	}
	w.Header().Set("Content-Type", "application/json")
	if ae.Status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	w.WriteHeader(ae.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// writeFallback writes the breaker's fixed unavailable response.
func (g *Gateway) writeFallback(w http.ResponseWriter) {
	fb := g.breaker.Fallback()
	w.Header().Set("Retry-After", strconv.Itoa(int(g.breaker.Config().CoolDown.Seconds())))
	g.writeError(w, apiError{Status: fb.Status, Code: fb.Code, Message: fb.Message})
}
