package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrCancelled is returned by Wait when the caller cancelled the generation
var ErrCancelled = errors.New("generation cancelled")

// Generation is one in-flight, non-restartable completion. Fragments are
// delivered to the EmitFunc given to SendMessage; the final text and error
// are available from Wait once Done is closed.
type Generation struct {
	messageID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	cancelled bool
	streamed  strings.Builder
	text      string
	err       error
}

func newGeneration(messageID string, cancel context.CancelFunc) *Generation {
	return &Generation{
		messageID: messageID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// MessageID is the id assigned to the assistant message this generation produces
func (g *Generation) MessageID() string {
	return g.messageID
}

// Done is closed once the generation has completed, failed or been cancelled
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the generation ends and returns its final text. After a
// cancellation the text is exactly what had been emitted so far.
func (g *Generation) Wait() (string, error) {
	<-g.done
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.text, g.err
}

// Cancel stops fragment delivery immediately and aborts the backend read.
// No fragment reaches the caller after Cancel returns.
func (g *Generation) Cancel() {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
	g.cancel()
}

// Cancelled reports whether Cancel was called
func (g *Generation) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// wrap guards emit so fragments stop at cancellation and are recorded
func (g *Generation) wrap(emit EmitFunc) EmitFunc {
	if emit == nil {
		return nil
	}
	return func(fragment string) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.cancelled || fragment == "" {
			return
		}
		g.streamed.WriteString(fragment)
		emit(fragment)
	}
}

func (g *Generation) finish(text string, streaming bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer close(g.done)

	switch {
	case g.cancelled:
		g.text = g.streamed.String()
		g.err = ErrCancelled
	case streaming:
		g.text = g.streamed.String()
		g.err = err
	default:
		g.text = text
		g.err = err
	}
}
