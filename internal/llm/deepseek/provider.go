package deepseek

import (
	"github.com/Rrens/ai-session-manager/internal/llm/openai"
)

// NewProvider creates a DeepSeek provider. DeepSeek speaks the OpenAI chat
// completions protocol on its own host.
func NewProvider(baseURL string) *openai.Provider {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	return openai.NewCompatible("deepseek", baseURL, "/chat/completions")
}
