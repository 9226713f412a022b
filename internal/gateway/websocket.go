package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/compresr/guard-gateway/internal/auth"
	"github.com/compresr/guard-gateway/internal/config"
	"github.com/compresr/guard-gateway/internal/monitoring"
)

// handleWebSocket serves one chat exchange per connection.
//
// The identity is checked during the handshake (Authorization header, or the
// token query parameter for browser clients) so failures are plain HTTP
// errors. After the upgrade the client sends one {"message","session_id"}
// frame and receives chunk frames followed by a done or error frame.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ex := g.newExchange(r, transportWebSocket)
	defer g.finish(ex)

	ctx, cancel := context.WithTimeout(r.Context(), g.config.Server.RequestTimeout)
	defer cancel()

	assertion := auth.AssertionFromRequest(r)
	if assertion == "" {
		assertion = strings.TrimSpace(r.URL.Query().Get(auth.QueryIdentityToken))
	}
	if err := g.authorize(ctx, ex, assertion); err != nil {
		g.fail(w, r, ex, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns(),
	})
	if err != nil {
		ex.outcome = monitoring.OutcomeInvalid
		ex.status = http.StatusBadRequest
		ex.errMsg = err.Error()
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(config.MaxRequestBodySize)

	var req chatRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		g.failWS(conn, ex, g.wsReadError(r.Context(), err))
		return
	}
	if err := g.check(req); err != nil {
		g.failWS(conn, ex, err)
		return
	}
	if err := g.evaluate(ctx, ex, req); err != nil {
		g.failWS(conn, ex, g.normalize(r.Context(), err))
		return
	}

	// Reads after this point only watch for the peer going away, which
	// cancels streamCtx and the downstream call with it.
	streamCtx := conn.CloseRead(ctx)
	res, err := g.relay(streamCtx, ex, &wsSink{ctx: streamCtx, conn: conn, requestID: ex.requestID})
	if err != nil {
		g.failWS(conn, ex, g.normalize(r.Context(), err))
		return
	}
	g.complete(ex, res)

	switch res.Outcome {
	case monitoring.OutcomeCompleted:
		_ = conn.Close(websocket.StatusNormalClosure, "completed")
	case monitoring.OutcomeClientDisconnected:
	default:
		_ = conn.Close(websocket.StatusInternalError, string(res.Outcome))
	}
}

func (g *Gateway) wsReadError(parent context.Context, err error) error {
	switch {
	case websocket.CloseStatus(err) != -1:
		return ErrClientDisconnected
	case strings.Contains(err.Error(), "read limited"):
		return ErrInputTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return g.normalize(parent, err)
	default:
		return fmt.Errorf("%w: malformed frame", ErrInvalidRequest)
	}
}

// failWS sends one error frame and closes the connection.
func (g *Gateway) failWS(conn *websocket.Conn, ex *exchange, err error) {
	ae := classifyError(err)
	ex.outcome = ae.Outcome
	ex.status = ae.Status
	ex.errMsg = err.Error()
	if ae.Outcome == monitoring.OutcomeClientDisconnected {
		return
	}

	msg := wsMessage{
		Type:      "error",
		RequestID: ex.requestID,
		Code:      ae.Code,
		Message:   ae.Message,
		Category:  ae.Category,
	}
	if errors.Is(err, ErrDownstreamUnavailable) {
		fb := g.breaker.Fallback()
		msg.Code = fb.Code
		msg.Message = fb.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if werr := wsjson.Write(ctx, conn, msg); werr != nil {
		log.Debug().Err(werr).Str("request_id", ex.requestID).Msg("websocket: error frame not delivered")
	}
	_ = conn.Close(wsCloseStatus(ae.Status), ae.Code)
}

func wsCloseStatus(status int) websocket.StatusCode {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return websocket.StatusPolicyViolation
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusInternalError
	}
}
