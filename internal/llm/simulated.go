package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Simulated is the stand-in responder used for routes without a live adapter.
// It follows the same fragment/completion contract as a live backend.
type Simulated struct {
	interval  time.Duration
	idleDelay time.Duration
}

// NewSimulated creates a simulated responder emitting one fragment per interval.
// idleDelay is how long a non-streaming request waits before resolving.
func NewSimulated(interval, idleDelay time.Duration) *Simulated {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Simulated{interval: interval, idleDelay: idleDelay}
}

func (s *Simulated) Name() string {
	return "simulated"
}

// Reply builds the deterministic response text for req
func (s *Simulated) Reply(req Request) string {
	base := fmt.Sprintf("This is a simulated response from %s", req.ModelID)
	if len(req.History) > 1 {
		base = "Based on our conversation, t" + base[1:]
	}

	question := "No message provided"
	if last, ok := req.LastUserMessage(); ok {
		question = last.Content
	}

	return fmt.Sprintf("%s to your message: \"%s\". In a real application, this would be the actual response from the AI model.", base, question)
}

func (s *Simulated) Stream(ctx context.Context, req Request, emit EmitFunc) (string, error) {
	full := s.Reply(req)

	if emit == nil {
		select {
		case <-time.After(s.idleDelay):
			return full, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	runes := []rune(full)
	var sent strings.Builder
	for i := 0; i < len(runes); {
		select {
		case <-ctx.Done():
			return sent.String(), ctx.Err()
		case <-ticker.C:
		}

		end := min(i+rand.Intn(3)+1, len(runes))
		chunk := string(runes[i:end])
		i = end

		sent.WriteString(chunk)
		emit(chunk)
	}
	return sent.String(), nil
}
