package llm

import (
	"strings"

	"github.com/Rrens/ai-session-manager/internal/domain"
)

// FlattenHistory renders a history as a single prompt for completion-style
// backends, ending with an "Assistant:" cue unless the assistant spoke last.
func FlattenHistory(history []domain.ChatMessage) string {
	var sb strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		sb.WriteString(speaker(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}

	if n := len(history); n > 0 && history[n-1].Role != domain.RoleAssistant {
		sb.WriteString("Assistant:")
	}
	return sb.String()
}

func speaker(role domain.Role) string {
	switch role {
	case domain.RoleUser:
		return "User"
	case domain.RoleSystem:
		return "System"
	default:
		return "Assistant"
	}
}
