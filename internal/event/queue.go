package event

import "sync"

// DefaultMaxQueueSize is the queue capacity used when none is configured.
const DefaultMaxQueueSize = 1000

// Queue is the bounded FIFO of events awaiting the next drain.
// When full, new events are rejected ("drop newest"); events already
// queued are never displaced.
// It is safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	ring *ring[Event]
}

// NewQueue creates a queue holding at most capacity events.
// A capacity below 1 is treated as 1.
func NewQueue(capacity int) *Queue {
	return &Queue{ring: newRing[Event](capacity)}
}

// Enqueue appends ev. It returns false if the queue is full.
func (q *Queue) Enqueue(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.push(ev)
}

// Dequeue removes and returns the oldest event.
func (q *Queue) Dequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.pop()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.Len()
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.Cap()
}

// Pending returns a copy of the queued events, oldest first.
func (q *Queue) Pending() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.items()
}

// Clear discards all queued events and returns how many were discarded.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.ring.Len()
	q.ring.clear()
	return n
}

// SetCapacity changes the capacity. If the queue holds more events than
// fit, the newest are removed and returned, consistent with drop-newest.
func (q *Queue) SetCapacity(capacity int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.resize(capacity, true)
}
