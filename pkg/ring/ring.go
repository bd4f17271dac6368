// Package ring implements a fixed-capacity FIFO over a preallocated slice.
package ring

// Ring keeps the last Cap() pushed values. Push is O(1) and never allocates.
// It is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	start int
	size  int
}

func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items: make([]T, capacity),
	}
}

func (r *Ring[T]) Len() int {
	return r.size
}

func (r *Ring[T]) Cap() int {
	return len(r.items)
}

func (r *Ring[T]) Full() bool {
	return r.size == len(r.items)
}

// Push appends v as the newest entry. When the ring is full the oldest entry
// is overwritten and returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return old, false
	}
	old = r.items[r.start]
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	return old, true
}

// At returns the i-th entry counting from the oldest one.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("ring: index out of range")
	}
	return r.items[(r.start+i)%len(r.items)]
}

// Last returns the newest entry.
func (r *Ring[T]) Last() (v T, ok bool) {
	if r.size == 0 {
		return v, false
	}
	return r.At(r.size - 1), true
}

// Each calls fn for every entry from the oldest to the newest.
func (r *Ring[T]) Each(fn func(idx int, v T)) {
	for i := 0; i < r.size; i++ {
		fn(i, r.items[(r.start+i)%len(r.items)])
	}
}

// Retain keeps only the entries for which keep returns true, preserving order.
// It returns the amount of removed entries.
func (r *Ring[T]) Retain(keep func(v T) bool) int {
	var zero T
	n := 0
	for i := 0; i < r.size; i++ {
		v := r.items[(r.start+i)%len(r.items)]
		if !keep(v) {
			continue
		}
		r.items[(r.start+n)%len(r.items)] = v
		n++
	}
	for i := n; i < r.size; i++ {
		r.items[(r.start+i)%len(r.items)] = zero
	}
	removed := r.size - n
	r.size = n
	return removed
}

func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
}
