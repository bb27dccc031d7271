package process

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh Process.
type Factory func() Process

// Registry maps process ids to factories. It is built explicitly at
// startup; nothing registers itself.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:   make(map[string]Factory),
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds a factory. The id comes from the built process's
// descriptor; duplicates are rejected.
func (r *Registry) Register(f Factory) error {
	if f == nil {
		return fmt.Errorf("process factory cannot be nil")
	}
	p := f()
	if p == nil {
		return fmt.Errorf("process factory returned nil")
	}
	d := p.Descriptor()
	if d.ID == "" {
		return fmt.Errorf("process descriptor has empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[d.ID]; exists {
		return fmt.Errorf("process %q already registered", d.ID)
	}
	r.factories[d.ID] = f
	r.descriptors[d.ID] = d
	return nil
}

// MustRegister is Register that panics, for startup wiring.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// New builds the process registered under id.
func (r *Registry) New(id string) (Process, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcess, id)
	}
	return f(), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// List returns every descriptor sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
