package flowrun

import (
	"context"
	"fmt"
)

// Provider is a single external generation backend.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Registry routes flow names to providers. It is populated once at startup
// and read-only afterwards, so request handling never races a config write.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a flow name to a provider. Last registration wins.
func (registry *Registry) Register(flowName string, provider Provider) {
	registry.providers[flowName] = provider
}

// Resolve returns the provider for a flow name.
func (registry *Registry) Resolve(flowName string) (Provider, error) {
	provider, ok := registry.providers[flowName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flowName)
	}
	return provider, nil
}
