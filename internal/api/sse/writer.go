// Package sse writes Server-Sent Events for streamed turns.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Event names written by the chat handlers. Turn events use the kind of the
// conversation event as their name.
const (
	EventStart = "start"
	EventDone  = "done"
)

// Writer writes Server-Sent Events to an HTTP response
type Writer struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer. Headers are set but not yet sent.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{
		writer:  w,
		flusher: flusher,
	}, nil
}

// WriteEvent writes one event with raw data
func (w *Writer) WriteEvent(event, data string) error {
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteJSON writes one event with JSON-encoded data
func (w *Writer) WriteJSON(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return w.WriteEvent(event, string(payload))
}

// WriteComment writes a comment line, used as a keep-alive
func (w *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(w.writer, ": %s\n\n", text); err != nil {
		return fmt.Errorf("failed to write comment: %w", err)
	}
	w.flusher.Flush()
	return nil
}
