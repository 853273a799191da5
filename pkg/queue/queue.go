// Package queue provides a fixed-capacity ring buffer that prefers fresh
// entries: pushing into a full ring evicts the oldest entry.
package queue

// DefaultCapacity is the reference ring size.
const DefaultCapacity = 16

// Ring is a bounded FIFO. It is not safe for concurrent use; callers run it
// from a single polling goroutine.
type Ring[T any] struct {
	buf     []T
	head    int // next write position
	tail    int // oldest entry
	count   int
	evicted uint64
}

// New creates a ring holding up to capacity entries. Non-positive values
// select DefaultCapacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push inserts v. It never fails: when full, the oldest entry is dropped
// first. It reports whether an entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)

	if r.count < len(r.buf) {
		r.count++
		return false
	}
	r.tail = (r.tail + 1) % len(r.buf)
	r.evicted++
	return true
}

// Pop removes and returns the oldest entry.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.tail]
	r.buf[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.buf)
	r.count--
	return v, true
}

// Peek returns the oldest entry without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.tail], true
}

// Len returns the number of queued entries.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Empty reports whether the ring holds no entries.
func (r *Ring[T]) Empty() bool { return r.count == 0 }

// Full reports whether the next Push will evict.
func (r *Ring[T]) Full() bool { return r.count == len(r.buf) }

// Evicted returns how many entries were dropped by Push since creation.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Clear drops every entry.
func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.head, r.tail, r.count = 0, 0, 0
}
