package tools

import (
	"sort"
	"strings"
	"sync"

	"github.com/vinayprograms/crew/internal/provider"
)

// All selects every registered tool in Subset.
const All = "all"

// Registry holds tools keyed by case-insensitive name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding ts.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(t.Name())] = t
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[strings.ToLower(strings.TrimSpace(name))]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

// Subset returns a registry restricted to names. The name "all" selects
// every tool. Unknown names are returned separately.
func (r *Registry) Subset(names []string) (*Registry, []string) {
	sub := NewRegistry()
	var missing []string
	for _, name := range names {
		if strings.EqualFold(name, All) {
			r.mu.RLock()
			for _, t := range r.tools {
				sub.Register(t)
			}
			r.mu.RUnlock()
			continue
		}
		if t := r.Get(name); t != nil {
			sub.Register(t)
		} else {
			missing = append(missing, name)
		}
	}
	return sub, missing
}

// Schemas returns model-facing definitions sorted by name.
func (r *Registry) Schemas() []provider.ToolSchema {
	if r == nil {
		return nil
	}
	var out []provider.ToolSchema
	for _, name := range r.Names() {
		t := r.Get(name)
		out = append(out, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}
