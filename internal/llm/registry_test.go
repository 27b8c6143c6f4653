package llm_test

import (
	"testing"

	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	r := llm.DefaultRegistry()

	tests := []struct {
		model    string
		route    llm.Route
		needsKey bool
	}{
		{"gpt-4o", llm.RouteOpenAI, true},
		{"claude-3-opus", llm.RouteAnthropic, true},
		{"gemini-pro", llm.RouteGoogle, true},
		{"gemma", llm.RouteOllama, false},
		{"llama-3-70b", llm.RouteLlama, false},
		{"deepseek-chat", llm.RouteDeepSeek, true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, ok := r.Resolve(tt.model)
			require.True(t, ok)
			assert.Equal(t, tt.route, p.Route)
			assert.Equal(t, tt.needsKey, p.RequiresCredential)
		})
	}

	t.Run("unknown model", func(t *testing.T) {
		_, ok := r.Resolve("no-such-model")
		assert.False(t, ok)
	})
}

func TestRegistry_SetBaseURL(t *testing.T) {
	r := llm.DefaultRegistry()
	r.SetBaseURL(llm.RouteOllama, "http://ollama:11434")

	p, ok := r.Resolve("gemma")
	require.True(t, ok)
	assert.Equal(t, "http://ollama:11434", p.BaseURL)

	r.SetBaseURL(llm.RouteOllama, "")
	p, _ = r.Resolve("gemma")
	assert.Equal(t, "http://ollama:11434", p.BaseURL)
}

func TestRegistry_Models(t *testing.T) {
	r := llm.DefaultRegistry()

	models := r.Models()
	require.NotEmpty(t, models)
	for i := 1; i < len(models); i++ {
		assert.Less(t, models[i-1].ID, models[i].ID)
	}

	assert.ElementsMatch(t, []string{"gpt-4o", "gpt-4o-mini"}, r.ModelsFor(llm.RouteOpenAI))
	assert.Empty(t, r.ModelsFor(llm.Route("nowhere")))
}
