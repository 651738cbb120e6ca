package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSE frames progress events as a server-sent event stream: one
// `data: <json>` message per event, with bare comment lines as keepalives.
// It is safe for use from one goroutine; Close may be called more than once.
type SSE struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewSSE negotiates the event-stream response and returns a writer for it.
// Returns an error when the underlying writer cannot flush incrementally.
func NewSSE(w http.ResponseWriter) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSE{w: w, flusher: flusher}, nil
}

// Send writes one event message and flushes it.
func (s *SSE) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("event stream closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Keepalive writes a comment message to hold the transport open across idle
// stretches. Failures are swallowed; a dead transport surfaces on the next
// Send.
func (s *SSE) Keepalive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return
	}
	s.flusher.Flush()
}

// Close marks the stream finished. Idempotent; subsequent Sends fail.
func (s *SSE) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
