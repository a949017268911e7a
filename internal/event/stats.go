package event

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	// EventsProcessed counts events whose listeners have all run.
	EventsProcessed uint64 `json:"events_processed"`

	// EventsQueued counts successful queued publishes.
	EventsQueued uint64 `json:"events_queued"`

	// EventsDropped counts queued publishes rejected at capacity.
	EventsDropped uint64 `json:"events_dropped"`

	// ListenerFaults counts listener errors and panics.
	ListenerFaults uint64 `json:"listener_faults"`

	// ListenerCalls counts listener invocations. ListenerErrors and
	// ListenerPanics split ListenerFaults by kind.
	ListenerCalls  uint64 `json:"listener_calls"`
	ListenerErrors uint64 `json:"listener_errors"`
	ListenerPanics uint64 `json:"listener_panics"`

	// ListenerTimeMs is the cumulative time spent inside listeners.
	ListenerTimeMs float64 `json:"listener_time_ms"`

	// Drains counts ProcessEvents calls that actually ran.
	Drains uint64 `json:"drains"`

	// Ticks counts Update calls.
	Ticks uint64 `json:"ticks"`

	// AverageProcessingMs is an exponentially smoothed drain duration in
	// milliseconds: each drain sets avg = (avg + thisDrain) / 2.
	AverageProcessingMs float64 `json:"average_processing_ms"`

	// LastProcessingMs is the duration of the most recent drain.
	LastProcessingMs float64 `json:"last_processing_ms"`

	// QueueDepth is the number of events awaiting processing.
	QueueDepth int `json:"queue_depth"`

	// HistorySize is the number of events in the history log.
	HistorySize int `json:"history_size"`

	// Listeners is the number of registered listeners.
	Listeners int `json:"listeners"`
}

// StatsTracker accumulates bus counters.
// It is safe for concurrent use.
type StatsTracker struct {
	mu sync.Mutex
	s  Stats
}

// NewStatsTracker creates a zeroed tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

func (t *StatsTracker) RecordQueued() {
	t.mu.Lock()
	t.s.EventsQueued++
	t.mu.Unlock()
}

func (t *StatsTracker) RecordDropped() {
	t.mu.Lock()
	t.s.EventsDropped++
	t.mu.Unlock()
}

func (t *StatsTracker) RecordProcessed() {
	t.mu.Lock()
	t.s.EventsProcessed++
	t.mu.Unlock()
}

func (t *StatsTracker) RecordFault() {
	t.mu.Lock()
	t.s.ListenerFaults++
	t.mu.Unlock()
}

func (t *StatsTracker) RecordTick() {
	t.mu.Lock()
	t.s.Ticks++
	t.mu.Unlock()
}

// RecordDrain folds the duration of one drain into the smoothed average.
// The first drain averages against zero, so it reports half its duration.
func (t *StatsTracker) RecordDrain(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.s.Drains++
	t.s.LastProcessingMs = ms
	t.s.AverageProcessingMs = (t.s.AverageProcessingMs + ms) / 2
}

// Snapshot returns the accumulated counters. Gauge fields are left zero.
func (t *StatsTracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.s
}

// Reset zeroes all counters.
func (t *StatsTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.s = Stats{}
}
