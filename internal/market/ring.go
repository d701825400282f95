package market

// Ring is a fixed-capacity FIFO buffer. When full, Push evicts the oldest
// element before appending. Ring is not safe for concurrent use.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing creates a Ring holding at most capacity elements. A capacity below
// one is treated as one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of retained elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th retained element, oldest first. It panics when i is out
// of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("market: ring index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// First returns the oldest element.
func (r *Ring[T]) First() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(0), true
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}
