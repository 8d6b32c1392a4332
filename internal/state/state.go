// Package state provides a small observable-value primitive. A Monitor wraps
// a value of any type and lets callers read it, replace it atomically, and
// subscribe to change notifications.
package state

import "sync"

// Change describes a single value transition observed by a Monitor.
type Change[T any] struct {
	Previous T
	Current  T
}

// Monitor holds a value and notifies subscribers when it changes.
// The zero Monitor is not usable; create one with NewMonitor.
type Monitor[T any] struct {
	mu      sync.RWMutex
	current T
	subs    map[int]chan Change[T]
	nextID  int
}

// NewMonitor creates a Monitor holding the given initial value.
func NewMonitor[T any](initial T) *Monitor[T] {
	return &Monitor[T]{
		current: initial,
		subs:    make(map[int]chan Change[T]),
	}
}

// Get returns the current value.
func (m *Monitor[T]) Get() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set replaces the current value and notifies subscribers.
// It returns the previous value.
func (m *Monitor[T]) Set(value T) T {
	m.mu.Lock()
	previous := m.current
	m.current = value
	change := Change[T]{Previous: previous, Current: value}
	for _, ch := range m.subs {
		// Slow subscribers miss intermediate transitions rather than
		// blocking the writer.
		select {
		case ch <- change:
		default:
		}
	}
	m.mu.Unlock()
	return previous
}

// Update applies fn to the current value under the write lock and stores the
// result, notifying subscribers. It returns the previous and new values.
func (m *Monitor[T]) Update(fn func(T) T) (previous, current T) {
	m.mu.Lock()
	previous = m.current
	current = fn(previous)
	m.current = current
	change := Change[T]{Previous: previous, Current: current}
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
	m.mu.Unlock()
	return previous, current
}

// Subscribe registers a change listener. The returned cancel function must be
// called to release the subscription; after cancel returns the channel is
// closed and receives no further changes.
func (m *Monitor[T]) Subscribe() (<-chan Change[T], func()) {
	ch := make(chan Change[T], 16)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}
