// Package provider is a typed registry of named backend constructors.
//
// Subsystems with pluggable backends (vector shards, embedding providers)
// build a Registry at startup, register each implementation explicitly,
// and construct the configured one by name.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a backend of type T from parameters of type P.
type Factory[P, T any] func(ctx context.Context, params P) (T, error)

// Registry maps backend names to factories. It is safe for concurrent use.
type Registry[P, T any] struct {
	subsystem string
	mu        sync.RWMutex
	factories map[string]Factory[P, T]
}

// NewRegistry creates an empty registry. subsystem is used in errors.
func NewRegistry[P, T any](subsystem string) *Registry[P, T] {
	return &Registry[P, T]{
		subsystem: subsystem,
		factories: make(map[string]Factory[P, T]),
	}
}

// Register adds a named factory. Registering a name twice is an error.
func (r *Registry[P, T]) Register(name string, f Factory[P, T]) error {
	if name == "" || f == nil {
		return fmt.Errorf("provider: %s registration requires a name and a factory", r.subsystem)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider: %s backend %q already registered", r.subsystem, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry[P, T]) MustRegister(name string, f Factory[P, T]) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// New constructs the backend registered under name.
func (r *Registry[P, T]) New(ctx context.Context, name string, params P) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown %s provider %q (available: %v)", r.subsystem, name, r.Available())
	}
	return f(ctx, params)
}

// Available returns the sorted registered names.
func (r *Registry[P, T]) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
