package downstream

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"
)

// readBufferSize is the per-read buffer for downstream bodies.
const readBufferSize = 4096

// textPaths are tried in order to pull chunk text out of an SSE data frame.
var textPaths = []string{
	"text",
	"delta.text",
	"choices.0.delta.content",
	"content",
}

// Stream yields text chunks from a downstream response body.
// It is not safe for concurrent use.
type Stream struct {
	body   io.ReadCloser
	sse    bool
	buf    []byte
	read   []byte
	events [][]byte
	eof    bool
}

func newStream(body io.ReadCloser, sse bool) *Stream {
	return &Stream{
		body: body,
		sse:  sse,
		read: make([]byte, readBufferSize),
	}
}

// NewRawStream wraps a plain byte stream.
func NewRawStream(body io.ReadCloser) *Stream { return newStream(body, false) }

// NewSSEStream wraps an event-stream body.
func NewSSEStream(body io.ReadCloser) *Stream { return newStream(body, true) }

// Next returns the next non-empty chunk. It returns io.EOF after a clean end
// and any other error when the body fails mid-stream.
func (s *Stream) Next() ([]byte, error) {
	if !s.sse {
		return s.nextRaw()
	}
	return s.nextEvent()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

func (s *Stream) nextRaw() ([]byte, error) {
	for {
		n, err := s.body.Read(s.read)
		if n > 0 {
			out := make([]byte, n)
			copy(out, s.read[:n])
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Stream) nextEvent() ([]byte, error) {
	for {
		for len(s.events) > 0 {
			ev := s.events[0]
			s.events = s.events[1:]
			text, done, err := eventText(ev)
			if err != nil || done {
				s.eof = true
				s.events = nil
				if err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			if len(text) > 0 {
				return text, nil
			}
		}
		if s.eof {
			return nil, io.EOF
		}

		n, err := s.body.Read(s.read)
		if n > 0 {
			s.buf = append(s.buf, s.read[:n]...)
			s.split(false)
		}
		if err == io.EOF {
			s.split(true)
			s.eof = true
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Stream) split(flush bool) {
	for {
		event, rest, ok := nextSSEEvent(s.buf, flush)
		if !ok {
			return
		}
		s.buf = rest
		s.events = append(s.events, event)
	}
}

func nextSSEEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

// StreamError is an error frame sent inside an otherwise healthy stream,
// either an "event: error" event or a data payload with a top-level "error".
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "downstream stream error"
	}
	return "downstream stream error: " + e.Message
}

// eventText extracts chunk text from one SSE event. done is true for the
// "[DONE]" terminator. Non-JSON data is passed through verbatim unless the
// event is named "error".
func eventText(event []byte) (text []byte, done bool, err error) {
	var name []byte
	var dataLines [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(line, []byte("event:")) {
			name = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("event:")))
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data:"))
		payload = bytes.TrimPrefix(payload, []byte(" "))
		dataLines = append(dataLines, payload)
	}
	data := bytes.Join(dataLines, []byte("\n"))
	isError := bytes.Equal(name, []byte("error"))

	if gjson.ValidBytes(data) {
		if e := gjson.GetBytes(data, "error"); e.Exists() && e.Type != gjson.Null {
			return nil, false, &StreamError{Message: streamErrorMessage(e)}
		}
	}
	if isError {
		msg := string(bytes.TrimSpace(data))
		if m := gjson.GetBytes(data, "message"); m.Exists() {
			msg = m.String()
		}
		return nil, false, &StreamError{Message: msg}
	}
	if len(dataLines) == 0 {
		return nil, false, nil
	}

	if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
		return nil, true, nil
	}
	if !gjson.ValidBytes(data) {
		return data, false, nil
	}
	for _, path := range textPaths {
		if r := gjson.GetBytes(data, path); r.Exists() && r.Type == gjson.String {
			return []byte(r.String()), false, nil
		}
	}
	return nil, false, nil
}

func streamErrorMessage(e gjson.Result) string {
	if e.Type == gjson.String {
		return e.String()
	}
	if m := e.Get("message"); m.Exists() {
		return m.String()
	}
	return e.Raw
}
