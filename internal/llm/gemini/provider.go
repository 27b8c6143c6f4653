package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var modelAliases = map[string]string{
	"gemini-pro": "gemini-1.5-pro",
}

// Provider streams completions through the Gemini chat API
type Provider struct{}

// NewProvider creates a Gemini adapter; the API key comes with each request
func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "gemini"
}

// Stream replays the history into a chat session and sends the final turn
func (p *Provider) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(req.Credential))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	modelName := req.ModelID
	if alias, ok := modelAliases[modelName]; ok {
		modelName = alias
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(float32(req.Parameters.Temperature))
	model.SetTopP(float32(req.Parameters.TopP))
	if req.Parameters.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.Parameters.MaxTokens))
	}

	history, system, last := splitHistory(req.History)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = history

	if emit == nil {
		resp, err := cs.SendMessage(ctx, genai.Text(last))
		if err != nil {
			return "", fmt.Errorf("gemini generation error: %w", err)
		}
		return responseText(resp), nil
	}

	var full strings.Builder
	iter := cs.SendMessageStream(ctx, genai.Text(last))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("gemini stream error: %w", err)
		}

		text := responseText(resp)
		if text != "" {
			full.WriteString(text)
			emit(text)
		}
	}
	return full.String(), nil
}

// splitHistory separates system instructions and the final message from the
// replayed chat history
func splitHistory(messages []domain.ChatMessage) ([]*genai.Content, string, string) {
	var system []string
	var turns []domain.ChatMessage
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	var last string
	if n := len(turns); n > 0 {
		last = turns[n-1].Content
		turns = turns[:n-1]
	}

	history := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	return history, strings.Join(system, "\n\n"), last
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	return sb.String()
}
