package events

import (
	"sync"
)

// registry holds the listeners of one event together with the replay value.
// L is the listener handle (a channel or a callback), T the event payload.
type registry[L any, T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]L
	nextID    uint64
	replay    bool
	last      T
	hasLast   bool
}

func newRegistry[L any, T any](replay bool) registry[L, T] {
	return registry[L, T]{
		listeners: make(map[uint64]L),
		replay:    replay,
	}
}

// add registers a listener and returns its id plus the value to replay, if any.
func (r *registry[L, T]) add(listener L) (uint64, T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = listener
	return id, r.last, r.replay && r.hasLast
}

func (r *registry[L, T]) remove(id uint64) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

// record stores value as the last event and returns a snapshot of the listeners
// so that delivery can happen outside the lock.
func (r *registry[L, T]) record(value T) []L {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = value
	r.hasLast = true
	snapshot := make([]L, 0, len(r.listeners))
	for _, l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	return snapshot
}

func (r *registry[L, T]) lastValue() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

func (r *registry[L, T]) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
