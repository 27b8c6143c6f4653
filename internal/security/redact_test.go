package security_test

import (
	"testing"

	"github.com/Rrens/ai-session-manager/internal/security"
	"github.com/stretchr/testify/assert"
)

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"openai key", "Incorrect API key provided: sk-proj-abc123def456", "Incorrect API key provided: [REDACTED]"},
		{"anthropic key", "invalid x-api-key sk-ant-api03-xyzxyzxyz", "invalid x-api-key [REDACTED]"},
		{"google key", "key AIzaSyA-1234567890abcdefghijkl is invalid", "key [REDACTED] is invalid"},
		{"bearer", "Authorization: Bearer abcdefghijkl", "Authorization: [REDACTED]"},
		{"api_key field", `{"api_key":"abcdefghijkl"}`, `{"api_key":"[REDACTED]"}`},
		{"nothing to hide", "model not found", "model not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, security.RedactSecrets(tt.input))
		})
	}
}
