package provider

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/crew/internal/model"
)

// Factory builds a model binding for a provider spec.
type Factory func(spec model.ProviderSpec) (LLM, error)

// Registry maps provider names to factories. It is built at startup and
// passed to whatever needs to bind agents to models.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	fallback  Factory
	timeout   time.Duration
}

// NewRegistry creates an empty registry. Every binding it loads is bounded
// by timeout (zero disables).
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		timeout:   timeout,
	}
}

// Register adds a factory for a provider name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// SetFallback sets the factory used when no provider-specific one matches.
func (r *Registry) SetFallback(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

// Load returns a fresh binding for spec.
func (r *Registry) Load(spec model.ProviderSpec) (*Binding, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(spec.Provider)]
	if !ok {
		f = r.fallback
	}
	timeout := r.timeout
	r.mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("no LLM provider registered for %q", spec.Provider)
	}
	l, err := f(spec)
	if err != nil {
		return nil, err
	}
	return &Binding{LLM: WithTimeout(l, timeout), Spec: spec}, nil
}

// Binding is a loaded model together with the spec it was built from,
// so it can be rebuilt with identical settings.
type Binding struct {
	LLM  LLM
	Spec model.ProviderSpec
}

func (b *Binding) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return b.LLM.Stream(ctx, req)
}

// Temperature returns the sampling temperature the binding was loaded with.
func (b *Binding) Temperature() float64 {
	return b.Spec.Temperature
}
