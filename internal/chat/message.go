package chat

import (
	"time"

	"github.com/Rrens/ai-session-manager/internal/domain"
)

// StreamMessage is one entry of the live generation view. Pending marks the
// assistant message still being generated.
type StreamMessage struct {
	ID      string      `json:"id"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
	Pending bool        `json:"pending,omitempty"`
}

// FromStored converts a transcript entry into its live view form
func FromStored(m domain.ChatMessage) StreamMessage {
	return StreamMessage{ID: m.ID, Role: m.Role, Content: m.Content}
}

// ToStored converts a live view entry into a transcript entry stamped at ts
func ToStored(m StreamMessage, ts time.Time) domain.ChatMessage {
	return domain.ChatMessage{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: ts}
}

func liveFromStored(msgs []domain.ChatMessage) []StreamMessage {
	out := make([]StreamMessage, len(msgs))
	for i, m := range msgs {
		out[i] = FromStored(m)
	}
	return out
}
