// Package upstream holds the provider adapters: one singleton per
// configured provider, each owning its wire protocol, auth lifecycle,
// connection settings, and retry configuration. Adapters speak their
// provider's native format; translation happens in the caller.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aigate-dev/aigate/internal/config"
	"github.com/aigate-dev/aigate/internal/converter"
)

// ErrUnsupportedModel marks a model the selected provider cannot serve.
var ErrUnsupportedModel = errors.New("model not supported by provider")

// StreamChunk is one native-format event payload from an upstream stream.
// A chunk with Err set is terminal; the channel closes after it.
type StreamChunk struct {
	Data []byte
	Err  error
}

// Adapter is the provider-facing surface. GenerateContent and
// GenerateContentStream take and return payloads in the adapter's native
// family (Family()).
type Adapter interface {
	// Provider identifies the adapter in config and routing.
	Provider() config.Provider

	// Family is the wire format the adapter speaks natively.
	Family() converter.Family

	// GenerateContent performs one unary completion call.
	GenerateContent(ctx context.Context, model string, body []byte) ([]byte, error)

	// GenerateContentStream opens a streaming completion call. The returned
	// channel yields native chunks in upstream arrival order and closes when
	// the stream ends; cancellation of ctx abandons the stream.
	GenerateContentStream(ctx context.Context, model string, body []byte) (<-chan StreamChunk, error)

	// ListModels returns the models the provider serves.
	ListModels(ctx context.Context) ([]converter.Model, error)

	// RefreshTokenIfNearExpiry refreshes the adapter's credential when it is
	// close to expiring. No-op for static-key providers.
	RefreshTokenIfNearExpiry(ctx context.Context)
}

// Registry maps provider names to their singleton adapters.
type Registry struct {
	adapters map[config.Provider]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[config.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider.
func (r *Registry) Get(p config.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("provider %q is not initialized", p)
	}
	return a, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
