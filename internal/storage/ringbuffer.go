package storage

import "sync"

// RingBuffer is a generic thread-safe ring buffer holding a fixed number of items.
// When full, adding an item overwrites the oldest one.
type RingBuffer[T any] struct {
	sync.RWMutex
	items    []T
	capacity int
	head     int // next write position
	size     int
}

// NewRingBuffer creates a ring buffer with the given capacity.
// The capacity must be greater than zero.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be greater than zero")
	}

	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item, evicting the oldest item when at capacity.
func (rb *RingBuffer[T]) Add(item T) {
	rb.Lock()
	defer rb.Unlock()
	rb.add(item)
}

func (rb *RingBuffer[T]) add(item T) {
	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// Replace discards the current contents and loads items in order.
// Only the last Capacity() items are kept when len(items) exceeds it.
func (rb *RingBuffer[T]) Replace(items []T) {
	rb.Lock()
	defer rb.Unlock()

	rb.reset()
	if len(items) > rb.capacity {
		items = items[len(items)-rb.capacity:]
	}
	for _, item := range items {
		rb.add(item)
	}
}

// GetAll returns all items oldest to newest.
// The returned slice is a copy and safe to modify.
func (rb *RingBuffer[T]) GetAll() []T {
	rb.RLock()
	defer rb.RUnlock()

	if rb.size == 0 {
		return nil
	}

	result := make([]T, rb.size)
	if rb.size < rb.capacity {
		copy(result, rb.items[:rb.size])
	} else {
		// Wrapped: head points at the oldest item.
		n := copy(result, rb.items[rb.head:])
		copy(result[n:], rb.items[:rb.head])
	}

	return result
}

// Newest returns up to n items, newest first.
// A non-positive n returns every item.
func (rb *RingBuffer[T]) Newest(n int) []T {
	all := rb.GetAll()
	if n <= 0 || n > len(all) {
		n = len(all)
	}

	result := make([]T, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		result = append(result, all[i])
	}
	return result
}

// Size returns the current number of items.
func (rb *RingBuffer[T]) Size() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.size
}

// Capacity returns the maximum number of items.
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Clear removes all items.
func (rb *RingBuffer[T]) Clear() {
	rb.Lock()
	defer rb.Unlock()
	rb.reset()
}

func (rb *RingBuffer[T]) reset() {
	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.size = 0
	rb.head = 0
}
