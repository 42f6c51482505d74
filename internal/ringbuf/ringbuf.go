// Package ringbuf provides a fixed-capacity FIFO ring that overwrites its
// oldest entry when full. It is not safe for concurrent use; callers
// serialise access.
package ringbuf

// Ring is a bounded FIFO of T. Capacity is a power of two for fast
// bitwise modulo.
type Ring[T any] struct {
	buf  []T
	mask uint64
	head uint64 // next write
	tail uint64 // next read

	overflow uint64
}

// New creates a ring. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New[T any](capacity int) *Ring[T] {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}
}

// Push appends v. When the ring is full the oldest entry is discarded and
// Push reports true.
func (r *Ring[T]) Push(v T) (dropped bool) {
	if r.head-r.tail >= uint64(len(r.buf)) {
		var zero T
		r.buf[r.tail&r.mask] = zero
		r.tail++
		r.overflow++
		dropped = true
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return dropped
}

// Peek returns the oldest entry without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	if r.tail >= r.head {
		var zero T
		return zero, false
	}
	return r.buf[r.tail&r.mask], true
}

// Pop removes and returns the oldest entry.
func (r *Ring[T]) Pop() (T, bool) {
	v, ok := r.Peek()
	if ok {
		var zero T
		r.buf[r.tail&r.mask] = zero
		r.tail++
	}
	return v, ok
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int {
	return int(r.head - r.tail)
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Overflow returns the total number of entries discarded because the ring
// was full.
func (r *Ring[T]) Overflow() uint64 {
	return r.overflow
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
