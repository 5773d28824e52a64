package unit

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps identifiers to active units in a thread-safe manner.
// T is normally a pointer to the manager's unit type.
type Registry[T comparable] struct {
	mu    sync.Mutex
	units map[string]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T comparable]() *Registry[T] {
	return &Registry[T]{units: make(map[string]T)}
}

// Register adds u under id. It fails with ErrAlreadyExists if id is taken.
func (r *Registry[T]) Register(id string, u T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.units[id]; exists {
		return fmt.Errorf("%q: %w", id, ErrAlreadyExists)
	}
	r.units[id] = u
	return nil
}

// Lookup returns the unit registered under id.
func (r *Registry[T]) Lookup(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	return u, ok
}

// Remove deletes and returns the unit registered under id.
func (r *Registry[T]) Remove(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if ok {
		delete(r.units, id)
	}
	return u, ok
}

// RemoveIf deletes the entry for id only if it is u. Workers use this on
// self-initiated cleanup so a reused identifier is left alone.
func (r *Registry[T]) RemoveIf(id string, u T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.units[id]; ok && cur == u {
		delete(r.units, id)
		return true
	}
	return false
}

// IDs returns a sorted snapshot of the registered identifiers.
func (r *Registry[T]) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drain empties the registry in one step and returns what it held. The
// caller stops the returned units without holding the registry lock.
func (r *Registry[T]) Drain() map[string]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	units := r.units
	r.units = make(map[string]T)
	return units
}

// Len returns the number of registered units.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}
