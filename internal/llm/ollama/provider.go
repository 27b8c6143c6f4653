package ollama

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

// Provider streams completions from a local Ollama server
type Provider struct {
	host   string
	client *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(host string) *Provider {
	return &Provider{
		host: strings.TrimRight(host, "/"),
		// no client timeout; generation length is bounded by the request context
		client: &http.Client{},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Content  string `json:"content"`
	Done     bool   `json:"done"`
}

// Stream posts the flattened history and decodes the NDJSON response
func (p *Provider) Stream(ctx context.Context, req llm.Request, emit llm.EmitFunc) (string, error) {
	params := req.Parameters
	body, err := json.Marshal(generateRequest{
		Model:  req.ModelID,
		Prompt: llm.FlattenHistory(req.History),
		Stream: emit != nil,
		Options: map[string]any{
			"temperature":       params.Temperature,
			"num_predict":       params.MaxTokens,
			"top_p":             params.TopP,
			"frequency_penalty": params.FrequencyPenalty,
			"presence_penalty":  params.PresencePenalty,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", llm.StatusError("ollama", resp)
	}

	var full strings.Builder
	err = llm.ScanLines(resp.Body, func(line string) error {
		var chunk generateChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed ollama line")
			return nil
		}

		text := chunk.Response
		if text == "" {
			text = chunk.Content
		}
		if text != "" {
			full.WriteString(text)
			emit.Emit(text)
		}
		if chunk.Done {
			return llm.StopScan()
		}
		return nil
	})
	if err != nil {
		return full.String(), err
	}

	return full.String(), nil
}
