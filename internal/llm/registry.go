package llm

import (
	"sort"
	"sync"
)

// Route names a dispatch route; one adapter implementation per route
type Route string

const (
	RouteOpenAI    Route = "openai"
	RouteAnthropic Route = "anthropic"
	RouteGoogle    Route = "google"
	RouteOllama    Route = "local-ollama"
	RouteLlama     Route = "local-llama"
	RouteDeepSeek  Route = "deepseek"
)

// ProviderDescriptor describes one backend family
type ProviderDescriptor struct {
	Name               string `json:"name"`
	BaseURL            string `json:"base_url"`
	APIPath            string `json:"api_path"`
	RequiresCredential bool   `json:"requires_credential"`
	StreamSupported    bool   `json:"stream_supported"`
	Local              bool   `json:"local"`
	Route              Route  `json:"route"`
}

// ModelInfo is one catalog entry offered by the configuration step
type ModelInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	SupportsImages bool   `json:"supports_images"`
	ContextLength  int    `json:"context_length"`
	RunsLocally    bool   `json:"runs_locally"`
	Provider       Route  `json:"provider"`
}

// Registry maps model identifiers to provider descriptors
type Registry struct {
	providers map[Route]ProviderDescriptor
	models    map[string]ModelInfo
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Route]ProviderDescriptor),
		models:    make(map[string]ModelInfo),
	}
}

// DefaultRegistry returns a registry holding the built-in provider and model table
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range defaultProviders {
		r.RegisterProvider(p)
	}
	for _, m := range defaultModels {
		r.RegisterModel(m)
	}
	return r
}

// RegisterProvider registers or replaces a provider descriptor
func (r *Registry) RegisterProvider(p ProviderDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Route] = p
}

// RegisterModel registers or replaces a catalog entry
func (r *Registry) RegisterModel(m ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
}

// SetBaseURL overrides the base address of a registered provider
func (r *Registry) SetBaseURL(route Route, baseURL string) {
	if baseURL == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[route]; ok {
		p.BaseURL = baseURL
		r.providers[route] = p
	}
}

// Resolve returns the provider descriptor serving modelID
func (r *Registry) Resolve(modelID string) (ProviderDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[modelID]
	if !ok {
		return ProviderDescriptor{}, false
	}
	p, ok := r.providers[m.Provider]
	return p, ok
}

// Model returns the catalog entry for modelID
func (r *Registry) Model(modelID string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[modelID]
	return m, ok
}

// Models returns the catalog sorted by id
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ModelsFor returns the ids of every model served by route
func (r *Registry) ModelsFor(route Route) []string {
	var ids []string
	for _, m := range r.Models() {
		if m.Provider == route {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

var defaultProviders = []ProviderDescriptor{
	{Name: "OpenAI", BaseURL: "https://api.openai.com", APIPath: "/v1/chat/completions", RequiresCredential: true, StreamSupported: true, Route: RouteOpenAI},
	{Name: "Anthropic", BaseURL: "https://api.anthropic.com", APIPath: "/v1/messages", RequiresCredential: true, StreamSupported: true, Route: RouteAnthropic},
	{Name: "Google", BaseURL: "https://generativelanguage.googleapis.com", APIPath: "/v1beta/models", RequiresCredential: true, StreamSupported: true, Route: RouteGoogle},
	{Name: "Ollama", BaseURL: "http://localhost:11434", APIPath: "/api/generate", StreamSupported: true, Local: true, Route: RouteOllama},
	{Name: "Llama", BaseURL: "http://localhost:8080", APIPath: "/completion", StreamSupported: true, Local: true, Route: RouteLlama},
	{Name: "DeepSeek", BaseURL: "https://api.deepseek.com", APIPath: "/chat/completions", RequiresCredential: true, StreamSupported: true, Route: RouteDeepSeek},
}

var defaultModels = []ModelInfo{
	{ID: "gpt-4o", Name: "GPT-4o", Description: "Most advanced model with vision capabilities", SupportsImages: true, ContextLength: 128000, Provider: RouteOpenAI},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Description: "Fast and efficient for most tasks", SupportsImages: true, ContextLength: 128000, Provider: RouteOpenAI},
	{ID: "claude-3-opus", Name: "Claude 3 Opus", Description: "High quality reasoning and coding assistance", SupportsImages: true, ContextLength: 200000, Provider: RouteAnthropic},
	{ID: "claude-3-sonnet", Name: "Claude 3 Sonnet", Description: "Balanced model for general use cases", SupportsImages: true, ContextLength: 180000, Provider: RouteAnthropic},
	{ID: "gemini-pro", Name: "Gemini Pro", Description: "Google's advanced model for various tasks", SupportsImages: true, ContextLength: 32000, Provider: RouteGoogle},
	{ID: "llama-3-70b", Name: "Llama 3 (70B)", Description: "Open-source model with strong coding capabilities", ContextLength: 8000, RunsLocally: true, Provider: RouteLlama},
	{ID: "gemma", Name: "Gemma", Description: "Lightweight model running locally on Ollama", ContextLength: 8000, RunsLocally: true, Provider: RouteOllama},
	{ID: "deepseek-chat", Name: "DeepSeek Chat", Description: "General purpose chat model from DeepSeek", ContextLength: 64000, Provider: RouteDeepSeek},
}
