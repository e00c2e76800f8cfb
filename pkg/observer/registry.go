// Package observer provides a subscriber table that tracks its own handlers
// so whole groups can be torn down at once.
package observer

import (
	"sort"
	"sync"
)

// Handler receives the payload passed to Emit.
type Handler[T any] func(payload T)

// HandlerID identifies a single registration returned by On.
type HandlerID uint64

type entry[T any] struct {
	id      HandlerID
	handler Handler[T]
}

// Registry maps event names to ordered handler lists.
//
// Handlers run synchronously inside Emit, in registration order. Emit takes a
// copy of the handler list before dispatching, so a handler may call Off or
// OffAll on its own event without deadlocking.
type Registry[T any] struct {
	mu       sync.RWMutex
	nextID   HandlerID
	handlers map[string][]entry[T]
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{handlers: make(map[string][]entry[T])}
}

// On registers handler for event and returns its id.
func (r *Registry[T]) On(event string, handler Handler[T]) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], entry[T]{id: id, handler: handler})
	return id
}

// Off removes one registration. It reports whether anything was removed.
func (r *Registry[T]) Off(event string, id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, e := range list {
		if e.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.handlers, event)
		} else {
			r.handlers[event] = list
		}
		return true
	}
	return false
}

// OffAll removes every handler for event and returns how many were removed.
func (r *Registry[T]) OffAll(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.handlers[event])
	delete(r.handlers, event)
	return n
}

// Clear removes every handler for every event.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[string][]entry[T])
}

// Emit invokes the handlers registered for event and returns how many ran.
func (r *Registry[T]) Emit(event string, payload T) int {
	r.mu.RLock()
	list := make([]entry[T], len(r.handlers[event]))
	copy(list, r.handlers[event])
	r.mu.RUnlock()

	for _, e := range list {
		e.handler(payload)
	}
	return len(list)
}

// Count returns the number of handlers registered for event.
func (r *Registry[T]) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers[event])
}

// Events lists the event names that currently have handlers, sorted.
func (r *Registry[T]) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		events = append(events, name)
	}
	sort.Strings(events)
	return events
}
