package util

import "sync"

// History is a fixed-capacity sliding window. Append drops the oldest entry
// once the window is full. All methods are safe for concurrent use.
type History[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int
	count int
}

// NewHistory creates a window holding at most capacity entries.
func NewHistory[T any](capacity int) *History[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &History[T]{buf: make([]T, capacity)}
}

// Append adds an entry, evicting the oldest when full.
func (h *History[T]) Append(item T) {
	h.mu.Lock()
	idx := (h.head + h.count) % len(h.buf)
	h.buf[idx] = item
	if h.count == len(h.buf) {
		h.head = (h.head + 1) % len(h.buf)
	} else {
		h.count++
	}
	h.mu.Unlock()
}

// All returns a copy of the window, oldest first.
func (h *History[T]) All() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Last returns up to n of the newest entries, oldest first.
func (h *History[T]) Last(n int) []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > h.count {
		n = h.count
	}
	out := make([]T, n)
	start := h.count - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.head+start+i)%len(h.buf)]
	}
	return out
}

// Len reports the number of stored entries.
func (h *History[T]) Len() int {
	h.mu.RLock()
	n := h.count
	h.mu.RUnlock()
	return n
}

// Clear empties the window, keeping capacity.
func (h *History[T]) Clear() {
	h.mu.Lock()
	h.head, h.count = 0, 0
	h.mu.Unlock()
}
