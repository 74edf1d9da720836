package model

import (
	"context"
	"sync"

	"github.com/opensearch-project/mlagent/core"
)

// Factory builds a Model for a model spec.
type Factory func(ctx context.Context, spec *core.ModelSpec) (Model, error)

// Resolver maps an agent's model spec to a Model.
type Resolver interface {
	Resolve(ctx context.Context, spec *core.ModelSpec) (Model, error)
}

// Registry resolves models first by model id, then by provider factory.
type Registry struct {
	mu              sync.RWMutex
	models          map[string]Model
	factories       map[string]Factory
	defaultProvider string
}

var _ Resolver = (*Registry)(nil)

// NewRegistry creates an empty registry. Specs without a provider use
// defaultProvider.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		models:          make(map[string]Model),
		factories:       make(map[string]Factory),
		defaultProvider: defaultProvider,
	}
}

// Register binds a ready model to a model id.
func (r *Registry) Register(modelID string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[modelID] = m
}

// RegisterProvider installs a factory for a provider name.
func (r *Registry) RegisterProvider(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ctx context.Context, spec *core.ModelSpec) (Model, error) {
	if spec == nil {
		return nil, core.Validationf("model spec is required")
	}
	r.mu.RLock()
	m, ok := r.models[spec.ModelID]
	provider := spec.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	f, hasFactory := r.factories[provider]
	r.mu.RUnlock()

	if ok {
		return m, nil
	}
	if !hasFactory {
		return nil, core.NotFoundf("model", "model %s not found (provider %q)", spec.ModelID, provider)
	}
	return f(ctx, spec)
}
