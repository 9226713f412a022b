package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// sink receives one relayed generation. Chunk errors mean the client is gone.
type sink interface {
	Chunk(text []byte) error
	Done(bytes int64, tokens int) error
	Fail(status, message string) error
}

// =============================================================================
// SSE
// =============================================================================

// sseSink writes event-stream frames. Headers are deferred to the first
// frame so a failure before any chunk can still be a plain JSON error.
type sseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) begin() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseSink) event(name string, data []byte) error {
	s.begin()
	if _, err := fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseSink) Chunk(text []byte) error {
	data, err := sjson.SetBytes([]byte(`{}`), "text", string(text))
	if err != nil {
		return err
	}
	return s.event("chunk", data)
}

func (s *sseSink) Done(bytes int64, tokens int) error {
	data := fmt.Appendf(nil, `{"status":"completed","bytes":%d,"tokens":%d}`, bytes, tokens)
	return s.event("done", data)
}

func (s *sseSink) Fail(status, message string) error {
	data, _ := sjson.SetBytes([]byte(`{}`), "status", status)
	data, _ = sjson.SetBytes(data, "message", message)
	return s.event("error", data)
}

// =============================================================================
// BUFFERED
// =============================================================================

// discardSink is used by the buffered endpoint; relay keeps the text.
type discardSink struct{}

func (discardSink) Chunk([]byte) error        { return nil }
func (discardSink) Done(int64, int) error     { return nil }
func (discardSink) Fail(string, string) error { return nil }

// =============================================================================
// WEBSOCKET
// =============================================================================

// wsWriteTimeout bounds terminal frames written after the request context ended.
const wsWriteTimeout = 5 * time.Second

// wsMessage is the JSON frame exchanged over /v1/ws.
type wsMessage struct {
	Type      string `json:"type"` // chunk | done | error
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Status    string `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Category  string `json:"category,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Tokens    int    `json:"tokens,omitempty"`
}

type wsSink struct {
	ctx       context.Context
	conn      *websocket.Conn
	requestID string
}

func (s *wsSink) Chunk(text []byte) error {
	return wsjson.Write(s.ctx, s.conn, wsMessage{Type: "chunk", Text: string(text)})
}

func (s *wsSink) Done(bytes int64, tokens int) error {
	return s.terminal(wsMessage{Type: "done", Status: "completed", Bytes: bytes, Tokens: tokens})
}

func (s *wsSink) Fail(status, message string) error {
	return s.terminal(wsMessage{Type: "error", Status: status, Code: status, Message: message})
}

func (s *wsSink) terminal(msg wsMessage) error {
	msg.RequestID = s.requestID
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, msg)
}
