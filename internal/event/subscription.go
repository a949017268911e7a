package event

import (
	"sync/atomic"

	"github.com/dshills/tickbus/internal/event/topic"
)

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Priority determines execution order (higher values execute first).
	Priority Priority

	// Filter is an optional predicate. If set, the listener is only
	// invoked for events the filter accepts.
	Filter Filter

	// Once marks a subscription that removes itself after its first event.
	Once bool

	onRemove func()
}

// DefaultSubscriptionConfig returns a default subscription configuration.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Priority: PriorityNormal,
	}
}

// SubscribeOption is a function that configures a subscription.
type SubscribeOption func(*SubscriptionConfig)

// WithPriority sets the subscription priority.
func WithPriority(p Priority) SubscribeOption {
	return func(c *SubscriptionConfig) {
		c.Priority = p
	}
}

// WithFilter sets a filter predicate.
func WithFilter(f Filter) SubscribeOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

func newSubscriptionConfig(opts []SubscribeOption) SubscriptionConfig {
	cfg := DefaultSubscriptionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// onceListener unsubscribes itself before forwarding its first event.
// The fired flag makes a second concurrent delivery a no-op.
type onceListener struct {
	registry *Registry
	typ      topic.Topic
	inner    Listener
	id       atomic.Uint64
	fired    atomic.Bool
}

func (o *onceListener) Invoke(payload any, ev Event) (any, error) {
	if !o.fired.CompareAndSwap(false, true) {
		return nil, nil
	}
	o.registry.Remove(o.typ, ListenerID(o.id.Load()))
	return o.inner.Invoke(payload, ev)
}

// Unwrap returns the caller's listener.
func (o *onceListener) Unwrap() Listener {
	return o.inner
}

// bind records the registry ID. If the listener already fired on another
// goroutine before the ID was known, the stale registration is removed here.
func (o *onceListener) bind(id ListenerID) {
	o.id.Store(uint64(id))
	if o.fired.Load() {
		o.registry.Remove(o.typ, id)
	}
}
