package history

// ring is a fixed-capacity buffer that keeps the newest entries. Pushing onto
// a full ring overwrites the oldest entry.
type ring[T any] struct {
	buf  []T
	next int // slot the next push writes to
	n    int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// newest returns up to limit entries, most recent first. limit <= 0 means all.
func (r *ring[T]) newest(limit int) []T {
	count := r.n
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]T, 0, count)
	idx := r.next
	for i := 0; i < count; i++ {
		idx = (idx - 1 + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *ring[T]) capacity() int { return len(r.buf) }
