package api

import (
	"github.com/Rrens/ai-session-manager/internal/config"
	"github.com/Rrens/ai-session-manager/internal/llm"
	"github.com/Rrens/ai-session-manager/internal/llm/anthropic"
	"github.com/Rrens/ai-session-manager/internal/llm/deepseek"
	"github.com/Rrens/ai-session-manager/internal/llm/gemini"
	"github.com/Rrens/ai-session-manager/internal/llm/ollama"
	"github.com/Rrens/ai-session-manager/internal/llm/openai"
	"github.com/rs/zerolog/log"
)

// NewDispatcher builds the provider registry, registers one adapter per
// route and binds the configured developer keys
func NewDispatcher(cfg config.LLMConfig) *llm.Dispatcher {
	registry := llm.DefaultRegistry()
	registry.SetBaseURL(llm.RouteOpenAI, cfg.OpenAI.BaseURL)
	registry.SetBaseURL(llm.RouteAnthropic, cfg.Anthropic.BaseURL)
	registry.SetBaseURL(llm.RouteDeepSeek, cfg.DeepSeek.BaseURL)
	registry.SetBaseURL(llm.RouteOllama, cfg.Ollama.Host)
	registry.SetBaseURL(llm.RouteLlama, cfg.Llama.Host)

	simulated := llm.NewSimulated(cfg.Simulated.Interval, cfg.Simulated.IdleDelay)
	d := llm.NewDispatcher(registry, simulated, cfg.DeveloperKeys)

	d.RegisterAdapter(llm.RouteOpenAI, openai.NewProvider(cfg.OpenAI.BaseURL))
	d.RegisterAdapter(llm.RouteAnthropic, anthropic.NewProvider(cfg.Anthropic.BaseURL))
	d.RegisterAdapter(llm.RouteGoogle, gemini.NewProvider())
	d.RegisterAdapter(llm.RouteDeepSeek, deepseek.NewProvider(cfg.DeepSeek.BaseURL))
	d.RegisterAdapter(llm.RouteOllama, ollama.NewProvider(cfg.Ollama.Host))

	providerKeys := map[llm.Route]string{
		llm.RouteOpenAI:    cfg.OpenAI.APIKey,
		llm.RouteAnthropic: cfg.Anthropic.APIKey,
		llm.RouteGoogle:    cfg.Gemini.APIKey,
		llm.RouteDeepSeek:  cfg.DeepSeek.APIKey,
	}
	for route, key := range providerKeys {
		if key == "" {
			continue
		}
		models := registry.ModelsFor(route)
		for _, model := range models {
			d.BindDeveloperKey(model, key)
		}
		log.Info().Str("provider", string(route)).Int("models", len(models)).Msg("Developer key configured")
	}

	return d
}
