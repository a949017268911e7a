package event

import (
	"sync"

	"github.com/dshills/tickbus/internal/event/topic"
)

// DefaultMaxHistorySize is the history capacity used when none is configured.
const DefaultMaxHistorySize = 100

// HistoryFilter selects events from the history log. Zero fields match
// everything. Criteria are combined with AND.
type HistoryFilter struct {
	// Type selects events of exactly this type.
	Type topic.Topic

	// Pattern selects events whose type matches a wildcard pattern.
	Pattern topic.Topic

	// Filter is an arbitrary predicate.
	Filter Filter

	// Limit keeps only the most recent Limit matches. Zero or negative
	// means no limit.
	Limit int
}

func (f HistoryFilter) matches(ev Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Pattern != "" && !ev.Type.Matches(f.Pattern) {
		return false
	}
	if f.Filter != nil && !f.Filter(ev) {
		return false
	}
	return true
}

// History is a bounded log of the most recently processed events.
// When full, recording an event evicts the oldest.
// It is safe for concurrent use.
type History struct {
	mu   sync.RWMutex
	ring *ring[Event]
}

// NewHistory creates a history log holding at most capacity events.
// A capacity below 1 is treated as 1.
func NewHistory(capacity int) *History {
	return &History{ring: newRing[Event](capacity)}
}

// Record appends ev, evicting the oldest entry if the log is full.
func (h *History) Record(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring.pushEvict(ev)
}

// Query returns matching events, oldest first. The result is a fresh
// slice that the caller may modify.
func (h *History) Query(filter HistoryFilter) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Event
	for i := 0; i < h.ring.Len(); i++ {
		ev := h.ring.at(i)
		if filter.matches(ev) {
			out = append(out, ev)
		}
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	if out == nil {
		out = []Event{}
	}
	return out
}

// Len returns the number of recorded events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.ring.Len()
}

// Cap returns the history capacity.
func (h *History) Cap() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.ring.Cap()
}

// Clear removes all recorded events.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring.clear()
}

// SetCapacity changes the capacity, evicting the oldest entries that no
// longer fit. It returns the number evicted.
func (h *History) SetCapacity(capacity int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.ring.resize(capacity, false))
}
