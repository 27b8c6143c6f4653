package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest(t *testing.T) {
	req := llm.Request{
		ModelID:    "claude-3-opus",
		Parameters: domain.DefaultParameters(),
		History: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
			{Role: domain.RoleUser, Content: "again"},
		},
	}

	got := buildRequest(req, true)
	assert.Equal(t, "claude-3-opus-20240229", got.Model)
	assert.Equal(t, "be brief", got.System)
	assert.Len(t, got.Messages, 3)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.True(t, got.Stream)
}

func TestProvider_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"!\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	var fragments []string
	text, err := NewProvider(server.URL).Stream(context.Background(), llm.Request{
		ModelID:    "claude-3-sonnet",
		Credential: "key",
		History:    []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	}, func(f string) { fragments = append(fragments, f) })

	require.NoError(t, err)
	assert.Equal(t, "Hi!", text)
	assert.Equal(t, []string{"Hi", "!"}, fragments)
}
