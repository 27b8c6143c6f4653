package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/rs/zerolog/log"
)

const apiVersion = "2023-06-01"

// modelAliases maps catalog ids to dated Anthropic model names
var modelAliases = map[string]string{
	"claude-3-opus":   "claude-3-opus-20240229",
	"claude-3-sonnet": "claude-3-sonnet-20240229",
	"claude-3-haiku":  "claude-3-haiku-20240307",
}

// Provider streams messages from the Anthropic API
type Provider struct {
	baseURL string
	client  *http.Client
}

// NewProvider creates a new Anthropic provider
func NewProvider(baseURL string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func buildRequest(req llm.Request, stream bool) messagesRequest {
	model := req.ModelID
	if alias, ok := modelAliases[model]; ok {
		model = alias
	}

	var system []string
	messages := make([]message, 0, len(req.History))
	for _, m := range req.History {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, message{Role: string(m.Role), Content: m.Content})
	}

	return messagesRequest{
		Model:       model,
		MaxTokens:   req.Parameters.MaxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		Temperature: req.Parameters.Temperature,
		TopP:        req.Parameters.TopP,
		Stream:      stream,
	}
}

// Stream sends the conversation and decodes content_block_delta events
func (p *Provider) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	body, err := json.Marshal(buildRequest(req, emit != nil))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.Credential)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError("anthropic", resp)
	}

	if emit == nil {
		var msgResp messagesResponse
		if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		var sb strings.Builder
		for _, c := range msgResp.Content {
			sb.WriteString(c.Text)
		}
		return sb.String(), nil
	}

	var full strings.Builder
	err = llm.ScanLines(resp.Body, func(line string) error {
		data, ok := llm.SSEData(line)
		if !ok {
			return nil
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed anthropic event")
			return nil
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				full.WriteString(ev.Delta.Text)
				emit(ev.Delta.Text)
			}
		case "message_stop":
			return llm.StopScan()
		case "error":
			return fmt.Errorf("anthropic stream error: %s", ev.Error.Message)
		}
		return nil
	})
	return full.String(), err
}
