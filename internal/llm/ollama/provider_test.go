package ollama_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/Rrens/ai-session-manager/internal/llm/ollama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Stream(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body

		fmt.Fprintln(w, `{"response":"Hel","done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"response":"lo","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
		fmt.Fprintln(w, `{"response":"ignored","done":false}`)
	}))
	defer server.Close()

	p := ollama.NewProvider(server.URL)
	req := llm.Request{
		ModelID:    "gemma",
		Parameters: domain.DefaultParameters(),
		History:    []domain.ChatMessage{{ID: "1", Role: domain.RoleUser, Content: "hi"}},
	}

	var fragments []string
	text, err := p.Stream(context.Background(), req, func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, fragments)

	got := <-bodies
	assert.Equal(t, "gemma", got["model"])
	assert.Equal(t, "User: hi\n\nAssistant:", got["prompt"])
	assert.Equal(t, true, got["stream"])
}

func TestProvider_StreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	p := ollama.NewProvider(server.URL)
	_, err := p.Stream(context.Background(), llm.Request{
		ModelID: "gemma",
		History: []domain.ChatMessage{{ID: "1", Role: domain.RoleUser, Content: "hi"}},
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
}
