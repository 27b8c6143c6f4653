package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Rrens/ai-session-manager/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Dispatcher routes uniform generation requests to backend adapters
type Dispatcher struct {
	registry      *Registry
	adapters      map[Route]Adapter
	fallback      Adapter
	developerKeys map[string]string
	mu            sync.RWMutex
}

// NewDispatcher creates a dispatcher. fallback serves every route that has
// no adapter registered.
func NewDispatcher(registry *Registry, fallback Adapter, developerKeys map[string]string) *Dispatcher {
	keys := make(map[string]string, len(developerKeys))
	for model, key := range developerKeys {
		if key != "" {
			keys[model] = key
		}
	}
	return &Dispatcher{
		registry:      registry,
		adapters:      make(map[Route]Adapter),
		fallback:      fallback,
		developerKeys: keys,
	}
}

// RegisterAdapter binds an adapter to a dispatch route
func (d *Dispatcher) RegisterAdapter(route Route, adapter Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[route] = adapter
}

// BindDeveloperKey pre-configures a credential for modelID unless one is already set
func (d *Dispatcher) BindDeveloperKey(modelID, key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.developerKeys[modelID]; !ok {
		d.developerKeys[modelID] = key
	}
}

// Registry returns the provider registry used for lookups
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// RequiresUserCredential reports whether a caller must supply a credential for modelID
func (d *Dispatcher) RequiresUserCredential(modelID string) bool {
	p, ok := d.registry.Resolve(modelID)
	if !ok || !p.RequiresCredential {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.developerKeys[modelID] == ""
}

type binding struct {
	provider   ProviderDescriptor
	adapter    Adapter
	credential string
}

// bind performs every configuration check and selects the adapter once
func (d *Dispatcher) bind(req Request) (binding, error) {
	if len(req.History) == 0 {
		return binding{}, domain.ErrEmptyHistory
	}
	for _, m := range req.History {
		if !m.Role.Valid() {
			return binding{}, fmt.Errorf("%w: %q", domain.ErrInvalidRole, m.Role)
		}
	}

	p, ok := d.registry.Resolve(req.ModelID)
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", domain.ErrUnknownModel, req.ModelID)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	credential := req.Credential
	if credential == "" {
		credential = d.developerKeys[req.ModelID]
	}
	if p.RequiresCredential && credential == "" {
		return binding{}, fmt.Errorf("%w: %s", domain.ErrCredentialRequired, req.ModelID)
	}

	adapter, ok := d.adapters[p.Route]
	if !ok {
		adapter = d.fallback
	}
	if adapter == nil {
		return binding{}, fmt.Errorf("no adapter for route %s", p.Route)
	}

	return binding{provider: p, adapter: adapter, credential: credential}, nil
}

// Validate runs the configuration checks of SendMessage without dispatching
func (d *Dispatcher) Validate(req Request) error {
	_, err := d.bind(req)
	return err
}

// SendMessage dispatches req and returns the in-flight generation. Configuration
// errors are returned before any network call. Transport failures are delivered
// as one descriptive fragment and as a *TransportError from Wait.
func (d *Dispatcher) SendMessage(ctx context.Context, req Request, emit EmitFunc) (*Generation, error) {
	b, err := d.bind(req)
	if err != nil {
		return nil, err
	}

	req.Credential = b.credential
	req.History = append([]domain.ChatMessage(nil), req.History...)

	ctx, cancel := context.WithCancel(ctx)
	gen := newGeneration(uuid.NewString(), cancel)
	guarded := gen.wrap(emit)

	log.Debug().
		Str("model", req.ModelID).
		Str("adapter", b.adapter.Name()).
		Int("history", len(req.History)).
		Bool("credential_present", b.credential != "").
		Bool("streaming", emit != nil).
		Msg("Dispatching generation")

	go func() {
		defer cancel()

		text, err := b.adapter.Stream(ctx, req, guarded)
		if err != nil && !gen.Cancelled() && !errors.Is(err, context.Canceled) {
			terr := newTransportError(b.provider, err)
			log.Warn().Err(err).Str("provider", b.provider.Name).Msg("Generation failed")
			guarded.Emit(terr.Message)
			text = terr.Message
			err = terr
		}
		gen.finish(text, emit != nil, err)
	}()

	return gen, nil
}
