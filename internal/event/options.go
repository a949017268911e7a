package event

import (
	"time"

	"github.com/rs/zerolog"
)

// BusOption configures an event Bus.
type BusOption func(*busConfig)

// busConfig contains configuration for the event bus.
type busConfig struct {
	// maxQueueSize bounds the pending queue.
	maxQueueSize int

	// maxHistorySize bounds the history log.
	maxHistorySize int

	logger zerolog.Logger

	dropHandler  DropHandler
	faultHandler FaultHandler
	hooks        []DispatchHook

	// clock stamps published events.
	clock func() time.Time
}

// defaultBusConfig returns sensible default configuration.
func defaultBusConfig() busConfig {
	return busConfig{
		maxQueueSize:   DefaultMaxQueueSize,
		maxHistorySize: DefaultMaxHistorySize,
		logger:         zerolog.Nop(),
		clock:          time.Now,
	}
}

// WithMaxQueueSize sets the pending queue capacity.
func WithMaxQueueSize(size int) BusOption {
	return func(c *busConfig) {
		if size > 0 {
			c.maxQueueSize = size
		}
	}
}

// WithMaxHistorySize sets the history log capacity.
func WithMaxHistorySize(size int) BusOption {
	return func(c *busConfig) {
		if size > 0 {
			c.maxHistorySize = size
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) BusOption {
	return func(c *busConfig) {
		c.logger = l
	}
}

// WithDropHandler sets a callback for events rejected by a full queue.
func WithDropHandler(h DropHandler) BusOption {
	return func(c *busConfig) {
		c.dropHandler = h
	}
}

// WithFaultHandler sets a callback for isolated listener faults.
func WithFaultHandler(h FaultHandler) BusOption {
	return func(c *busConfig) {
		c.faultHandler = h
	}
}

// WithDispatchHook adds a hook that observes every processed event.
// Hooks run in the order added.
func WithDispatchHook(h DispatchHook) BusOption {
	return func(c *busConfig) {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

// WithClock sets the clock used to timestamp events.
func WithClock(now func() time.Time) BusOption {
	return func(c *busConfig) {
		if now != nil {
			c.clock = now
		}
	}
}
