package loop

import (
	"math"
	"sync/atomic"
	"time"
)

// Metrics tracks tick timing. It is safe for concurrent use.
type Metrics struct {
	tickCount   atomic.Uint64
	tickTotalNs atomic.Int64
	tickMinNs   atomic.Int64
	tickMaxNs   atomic.Int64
	lastTickNs  atomic.Int64
	overruns    atomic.Uint64

	startNs atomic.Int64
	now     func() time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics(now func() time.Time) *Metrics {
	if now == nil {
		now = time.Now
	}
	m := &Metrics{now: now}
	m.Reset()
	return m
}

// RecordTick records the duration of one tick.
func (m *Metrics) RecordTick(d time.Duration) {
	ns := d.Nanoseconds()

	m.tickCount.Add(1)
	m.tickTotalNs.Add(ns)
	m.lastTickNs.Store(ns)

	for {
		old := m.tickMinNs.Load()
		if ns >= old || m.tickMinNs.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.tickMaxNs.Load()
		if ns <= old || m.tickMaxNs.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordOverrun records a tick that took longer than the tick period.
func (m *Metrics) RecordOverrun() {
	m.overruns.Add(1)
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	count := m.tickCount.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(m.tickTotalNs.Load() / int64(count))
	}

	minNs := m.tickMinNs.Load()
	if minNs == math.MaxInt64 {
		minNs = 0
	}

	return MetricsSnapshot{
		Uptime:   m.now().Sub(time.Unix(0, m.startNs.Load())),
		Ticks:    count,
		AvgTick:  avg,
		MinTick:  time.Duration(minNs),
		MaxTick:  time.Duration(m.tickMaxNs.Load()),
		LastTick: time.Duration(m.lastTickNs.Load()),
		Overruns: m.overruns.Load(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.tickCount.Store(0)
	m.tickTotalNs.Store(0)
	m.tickMinNs.Store(math.MaxInt64)
	m.tickMaxNs.Store(0)
	m.lastTickNs.Store(0)
	m.overruns.Store(0)
	m.startNs.Store(m.now().UnixNano())
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	Uptime   time.Duration `json:"uptime"`
	Ticks    uint64        `json:"ticks"`
	AvgTick  time.Duration `json:"avg_tick"`
	MinTick  time.Duration `json:"min_tick"`
	MaxTick  time.Duration `json:"max_tick"`
	LastTick time.Duration `json:"last_tick"`
	Overruns uint64        `json:"overruns"`
}
