package arch

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps architecture names to architectures. Registering under a
// name that is already bound replaces the binding, which is how a Hook takes
// the place of the base architecture it wraps.
type Registry struct {
	mu    sync.RWMutex
	archs map[string]Architecture
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{archs: make(map[string]Architecture)}
}

// Register binds a under a.Name() and returns the architecture it replaced,
// if any.
func (r *Registry) Register(a Architecture) Architecture {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.archs[a.Name()]
	r.archs[a.Name()] = a
	return prev
}

// GetByName returns the architecture bound to name.
func (r *Registry) GetByName(name string) (Architecture, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.archs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArchitectureNotFound, name)
	}
	return a, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.archs))
	for name := range r.archs {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
