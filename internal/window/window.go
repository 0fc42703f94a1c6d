// Package window provides a fixed-capacity FIFO buffer that evicts its
// oldest entry once full.
package window

import "sync"

// Window is a bounded FIFO safe for concurrent use. Push is serialized by a
// single writer lock so insertion order and the capacity bound always hold.
type Window[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // index of the oldest item
	size  int
}

// New creates a window holding at most capacity items. A non-positive
// capacity is treated as 1.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when the window is full. It
// reports whether an item was evicted.
func (w *Window[T]) Push(v T) (evicted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	capacity := len(w.items)
	if w.size < capacity {
		w.items[(w.head+w.size)%capacity] = v
		w.size++
		return false
	}
	w.items[w.head] = v
	w.head = (w.head + 1) % capacity
	return true
}

// Snapshot returns a copy of the items, oldest first.
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]T, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.items[(w.head+i)%len(w.items)]
	}
	return out
}

// Len returns the number of items held.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Cap returns the fixed capacity.
func (w *Window[T]) Cap() int {
	return len(w.items)
}

// Reset drops every item.
func (w *Window[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	var zero T
	for i := range w.items {
		w.items[i] = zero
	}
	w.head = 0
	w.size = 0
}
