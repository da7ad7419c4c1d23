package audio

// ring is a FIFO ring buffer that grows when full.
// It is not safe for concurrent use; ChunkChannel guards it with its own mutex.
type ring[T any] struct {
	buffer []T
	head   int
	count  int
}

// newRing creates a ring with room for size elements before the first grow
func newRing[T any](size int) *ring[T] {
	if size < 1 {
		size = 1
	}
	return &ring[T]{
		buffer: make([]T, size),
	}
}

// Push appends v at the tail, doubling the backing array if the ring is full
func (r *ring[T]) Push(v T) {
	if r.IsFull() {
		r.grow()
	}
	r.buffer[(r.head+r.count)%len(r.buffer)] = v
	r.count++
}

// Pop removes and returns the oldest element
func (r *ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}

	v := r.buffer[r.head]
	// Release the slot so popped frames can be collected
	r.buffer[r.head] = zero
	r.head = (r.head + 1) % len(r.buffer)
	r.count--
	return v, true
}

// Len returns the number of queued elements
func (r *ring[T]) Len() int {
	return r.count
}

// IsFull returns true if the next Push has to grow the backing array
func (r *ring[T]) IsFull() bool {
	return r.count == len(r.buffer)
}

func (r *ring[T]) grow() {
	next := make([]T, len(r.buffer)*2)
	n := copy(next, r.buffer[r.head:])
	copy(next[n:], r.buffer[:r.head])
	r.buffer = next
	r.head = 0
}
