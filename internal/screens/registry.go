// Package screens maps logical screen ids to constructors. A notification or
// a config entry names a screen by id; the registry resolves it.
package screens

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ID names a screen.
type ID string

// Well-known screens.
const (
	Status ID = "status"
	Listen ID = "listen"
	Speak  ID = "speak"
	Queue  ID = "queue"
)

var (
	// ErrUnknownScreen is returned when no factory is registered for an id.
	ErrUnknownScreen = errors.New("unknown screen")
	// ErrDuplicateScreen is returned when an id is registered twice.
	ErrDuplicateScreen = errors.New("screen already registered")
)

// Registry holds the factory of every screen.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[ID]func() T
	fallback  ID
}

// NewRegistry creates an empty registry. Resolve falls back to fallback for
// an empty id.
func NewRegistry[T any](fallback ID) *Registry[T] {
	return &Registry[T]{factories: make(map[ID]func() T), fallback: fallback}
}

// Register adds the factory for id.
func (r *Registry[T]) Register(id ID, factory func() T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateScreen, id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister is Register that panics on error. Use it for static tables.
func (r *Registry[T]) MustRegister(id ID, factory func() T) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve builds the screen registered for id.
func (r *Registry[T]) Resolve(id ID) (T, error) {
	if id == "" {
		id = r.fallback
	}
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrUnknownScreen, id)
	}
	return factory(), nil
}

// Has reports whether id is registered.
func (r *Registry[T]) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry[T]) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
