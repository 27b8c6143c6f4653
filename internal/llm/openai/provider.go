package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/rs/zerolog/log"
)

// Provider streams chat completions from an OpenAI-compatible API
type Provider struct {
	name    string
	baseURL string
	path    string
	client  *http.Client
}

// NewProvider creates a provider for the OpenAI API
func NewProvider(baseURL string) *Provider {
	return NewCompatible("openai", baseURL, "/v1/chat/completions")
}

// NewCompatible creates a provider for any backend speaking the OpenAI
// chat completions protocol
func NewCompatible(name, baseURL, path string) *Provider {
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		client:  &http.Client{},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return p.name
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	Stream           bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func buildRequest(req llm.Request, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(req.History))
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	params := req.Parameters
	return chatRequest{
		Model:            req.ModelID,
		Messages:         messages,
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		Stream:           stream,
	}
}

// Stream sends the conversation and decodes the SSE delta stream
func (p *Provider) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	body, err := json.Marshal(buildRequest(req, emit != nil))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	if emit != nil {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError(p.name, resp)
	}

	if emit == nil {
		var chatResp chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if len(chatResp.Choices) == 0 {
			return "", fmt.Errorf("no response from %s", p.name)
		}
		return chatResp.Choices[0].Message.Content, nil
	}

	var full strings.Builder
	err = llm.ScanLines(resp.Body, func(line string) error {
		data, ok := llm.SSEData(line)
		if !ok {
			return nil
		}
		if data == "[DONE]" {
			return llm.StopScan()
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug().Err(err).Str("provider", p.name).Msg("Skipping malformed stream line")
			return nil
		}
		if len(chunk.Choices) == 0 {
			return nil
		}

		text := chunk.Choices[0].Delta.Content
		if text != "" {
			full.WriteString(text)
			emit(text)
		}
		return nil
	})
	return full.String(), err
}

