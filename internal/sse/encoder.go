// Package sse frames events.Event values onto a long-lived HTTP response
// per the RFC-6202-style contract in spec §4.1/§6: one "event:" line, one
// or more "data:" lines carrying the JSON payload split on source
// newlines, and a blank line terminator. The encoder owns no state
// beyond the response handle and flushes after every frame.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/turnforge/chatcore/internal/events"
)

// Headers required for an SSE response (spec §4.1).
func Headers(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Encoder writes framed events to an http.ResponseWriter that also
// implements http.Flusher. Not safe for concurrent use by multiple
// goroutines — a stream has a single producer per spec §5.
type Encoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// ErrNotFlushable is returned by NewEncoder when the response writer
// cannot be flushed incrementally.
var ErrNotFlushable = fmt.Errorf("sse: response writer does not support flushing")

func NewEncoder(w http.ResponseWriter) (*Encoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNotFlushable
	}
	return &Encoder{w: w, flusher: flusher}, nil
}

// Write emits one frame for evt and flushes immediately.
func (e *Encoder) Write(evt events.Event) error {
	payload, err := json.Marshal(evt.Payload())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\n", evt.Kind); err != nil {
		return err
	}
	// One "data:" line per source line, so a payload containing literal
	// newlines keeps the frame well-formed. json.Marshal escapes newlines
	// inside strings (a chunk's "\n" arrives as `\n`), so a marshaled
	// payload is normally a single line.
	for _, line := range strings.Split(string(payload), "\n") {
		if _, err := fmt.Fprintf(e.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(e.w, "\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Heartbeat emits a comment line to keep intermediaries from closing an
// idle connection (spec §6: "A comment line `: heartbeat` may be sent").
func (e *Encoder) Heartbeat() error {
	if _, err := fmt.Fprint(e.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
