// Package loop drives an Updater at a fixed tick rate.
//
// The loop is the single place that calls Bus.Update in a running
// process, so every queued listener runs on the loop goroutine.
package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTickRate is ticks per second when no rate is configured.
const DefaultTickRate = 60

// ErrAlreadyRunning is returned by Run when the loop is already running.
var ErrAlreadyRunning = errors.New("loop already running")

// Updater is advanced once per tick with the time since the previous tick.
type Updater interface {
	Update(dt time.Duration)
}

// UpdaterFunc adapts a function to Updater.
type UpdaterFunc func(dt time.Duration)

// Update calls f(dt).
func (f UpdaterFunc) Update(dt time.Duration) { f(dt) }

// Option configures a Loop.
type Option func(*Loop)

// WithTickRate sets ticks per second. Non-positive rates are ignored.
func WithTickRate(hz int) Option {
	return func(l *Loop) {
		if hz > 0 {
			l.period = time.Second / time.Duration(hz)
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithClock sets the time source used for dt and tick timing.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// Loop calls an Updater on a fixed period.
type Loop struct {
	updater Updater
	period  time.Duration
	logger  zerolog.Logger
	now     func() time.Time
	metrics *Metrics
	running atomic.Bool
}

// New creates a loop for u.
func New(u Updater, opts ...Option) *Loop {
	l := &Loop{
		updater: u,
		period:  time.Second / DefaultTickRate,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.metrics = NewMetrics(l.now)
	return l
}

// Period returns the tick period.
func (l *Loop) Period() time.Duration {
	return l.period
}

// Metrics returns the loop's tick metrics.
func (l *Loop) Metrics() *Metrics {
	return l.metrics
}

// IsRunning reports whether Run is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Run ticks until ctx is done. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Debug().Dur("period", l.period).Msg("loop started")
	defer func() {
		l.logger.Debug().Uint64("ticks", l.metrics.Snapshot().Ticks).Msg("loop stopped")
	}()

	last := l.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := l.now()
			dt := now.Sub(last)
			last = now
			l.Step(dt)
		}
	}
}

// Step performs one tick with the given delta.
func (l *Loop) Step(dt time.Duration) {
	start := l.now()
	l.updater.Update(dt)
	elapsed := l.now().Sub(start)

	l.metrics.RecordTick(elapsed)
	if elapsed > l.period {
		l.metrics.RecordOverrun()
		l.logger.Debug().
			Dur("elapsed", elapsed).
			Dur("period", l.period).
			Msg("tick overran period")
	}
}
