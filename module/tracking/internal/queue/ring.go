// Package queue holds the bounded FIFO used wherever the service buffers
// between an ingress and an egress: full queues drop their oldest item.
package queue

import (
	"sync"
	"sync/atomic"
)

type Ring[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	size   int
	closed bool

	dropped atomic.Uint64
	notify  chan struct{}
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v, evicting the oldest item when full. It reports whether an
// item was evicted. Pushes after Close are discarded and counted as drops.
func (r *Ring[T]) Push(v T) (evicted bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.dropped.Add(1)
		return true
	}
	if r.size == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		evicted = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.mu.Unlock()

	if evicted {
		r.dropped.Add(1)
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// PopN removes up to max items in FIFO order. max <= 0 drains everything.
func (r *Ring[T]) PopN(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = r.buf[r.head]
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
	}
	r.size -= n
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Dropped is the number of items evicted or refused since creation. It
// never decreases.
func (r *Ring[T]) Dropped() uint64 {
	return r.dropped.Load()
}

// Ready is signalled after pushes; a single signal may cover many items.
func (r *Ring[T]) Ready() <-chan struct{} {
	return r.notify
}

// Close stops accepting items. Items already queued stay poppable.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Ring[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
