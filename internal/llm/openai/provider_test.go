package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/Rrens/ai-session-manager/internal/llm/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() llm.Request {
	return llm.Request{
		ModelID:    "gpt-4o",
		Parameters: domain.DefaultParameters(),
		Credential: "sk-test",
		History: []domain.ChatMessage{
			{ID: "1", Role: domain.RoleSystem, Content: "be brief"},
			{ID: "2", Role: domain.RoleUser, Content: "hi"},
		},
	}
}

func TestProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.Len(t, body["messages"], 2)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {broken\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := openai.NewProvider(server.URL)

	var fragments []string
	text, err := p.Stream(context.Background(), request(), func(f string) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, []string{"Hi", " there"}, fragments)
}

func TestProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Hello"}}]}`)
	}))
	defer server.Close()

	text, err := openai.NewProvider(server.URL).Stream(context.Background(), request(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestNewCompatible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		http.Error(w, `{"error":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := openai.NewCompatible("deepseek", server.URL, "/chat/completions")
	assert.Equal(t, "deepseek", p.Name())

	_, err := p.Stream(context.Background(), request(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepseek returned status 401")
}
