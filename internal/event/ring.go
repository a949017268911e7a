package event

// minRingAlloc is the first backing allocation of a ring.
const minRingAlloc = 16

// ring is a bounded FIFO over a circular buffer. The backing array grows
// by doubling and never exceeds limit, so a large configured capacity
// costs nothing until it is used.
// It is not safe for concurrent use.
type ring[T any] struct {
	buf   []T
	head  int
	size  int
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit < 1 {
		limit = 1
	}
	return &ring[T]{limit: limit}
}

func (r *ring[T]) Len() int { return r.size }

func (r *ring[T]) Cap() int { return r.limit }

func (r *ring[T]) at(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring[T]) grow() {
	n := len(r.buf) * 2
	if n < minRingAlloc {
		n = minRingAlloc
	}
	if n > r.limit {
		n = r.limit
	}
	buf := make([]T, n)
	for i := 0; i < r.size; i++ {
		buf[i] = r.at(i)
	}
	r.buf = buf
	r.head = 0
}

// push appends v. It returns false, leaving the ring unchanged, when full.
func (r *ring[T]) push(v T) bool {
	if r.size >= r.limit {
		return false
	}
	if r.size == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return true
}

// pushEvict appends v, evicting and returning the oldest element when full.
func (r *ring[T]) pushEvict(v T) (evicted T, ok bool) {
	if r.push(v) {
		return evicted, false
	}
	// Full implies len(buf) == limit.
	evicted = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// pop removes and returns the oldest element.
func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	if r.size == 0 {
		r.head = 0
	}
	return v, true
}

// items returns a copy of the contents, oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring[T]) clear() {
	r.buf = nil
	r.head = 0
	r.size = 0
}

// resize changes the limit. Elements that no longer fit are removed and
// returned: the newest ones when keepOldest is set, otherwise the oldest.
func (r *ring[T]) resize(limit int, keepOldest bool) []T {
	if limit < 1 {
		limit = 1
	}
	items := r.items()
	var removed []T
	if len(items) > limit {
		if keepOldest {
			removed = items[limit:]
			items = items[:limit]
		} else {
			removed = items[:len(items)-limit]
			items = items[len(items)-limit:]
		}
	}

	r.limit = limit
	r.clear()
	if len(items) > 0 {
		r.buf = items
		r.size = len(items)
	}
	return removed
}
