package event

import (
	"sync"

	"github.com/dshills/tickbus/internal/event/topic"
)

type trackedSub struct {
	typ topic.Topic
	id  ListenerID
}

// Subscriber groups the subscriptions of one component so they can be
// released together when the component shuts down.
type Subscriber struct {
	bus    *Bus
	subs   []trackedSub
	mu     sync.Mutex
	closed bool
}

// NewSubscriber creates a new Subscriber wrapping the given bus.
func NewSubscriber(bus *Bus) *Subscriber {
	return &Subscriber{bus: bus}
}

// Subscribe registers l on the bus and tracks it for cleanup.
func (s *Subscriber) Subscribe(t topic.Topic, l Listener, opts ...SubscribeOption) (ListenerID, error) {
	return s.track(t, func() (ListenerID, error) {
		return s.bus.Subscribe(t, l, opts...)
	})
}

// SubscribeFunc registers a function listener.
func (s *Subscriber) SubscribeFunc(t topic.Topic, fn ListenerFunc, opts ...SubscribeOption) (ListenerID, error) {
	if fn == nil {
		return 0, ErrNilListener
	}
	return s.Subscribe(t, fn, opts...)
}

// Once registers a one-shot listener and tracks it for cleanup.
func (s *Subscriber) Once(t topic.Topic, l Listener, opts ...SubscribeOption) (ListenerID, error) {
	return s.track(t, func() (ListenerID, error) {
		return s.bus.Once(t, l, opts...)
	})
}

// SubscribeCritical registers a critical-priority listener.
func (s *Subscriber) SubscribeCritical(t topic.Topic, l Listener, opts ...SubscribeOption) (ListenerID, error) {
	opts = append(opts, WithPriority(PriorityCritical))
	return s.Subscribe(t, l, opts...)
}

// SubscribeLow registers a low-priority listener. Low-priority listeners
// run last and suit journaling and forwarding.
func (s *Subscriber) SubscribeLow(t topic.Topic, l Listener, opts ...SubscribeOption) (ListenerID, error) {
	opts = append(opts, WithPriority(PriorityLow))
	return s.Subscribe(t, l, opts...)
}

func (s *Subscriber) track(t topic.Topic, subscribe func() (ListenerID, error)) (ListenerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSubscriberClosed
	}

	id, err := subscribe()
	if err != nil {
		return 0, err
	}
	s.subs = append(s.subs, trackedSub{typ: t, id: id})
	return id, nil
}

// Unsubscribe removes one tracked subscription.
func (s *Subscriber) Unsubscribe(t topic.Topic, id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id && sub.typ == t {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	return s.bus.Unsubscribe(t, id)
}

// UnsubscribeAll removes every tracked subscription and returns how many
// were still registered.
func (s *Subscriber) UnsubscribeAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.releaseLocked()
}

func (s *Subscriber) releaseLocked() int {
	removed := 0
	for _, sub := range s.subs {
		if s.bus.Unsubscribe(sub.typ, sub.id) {
			removed++
		}
	}
	s.subs = s.subs[:0]
	return removed
}

// Close removes all subscriptions and prevents new ones.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseLocked()
	s.subs = nil
	return nil
}

// Count returns the number of tracked subscriptions still registered.
// One-shot listeners that have fired are not counted.
func (s *Subscriber) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sub := range s.subs {
		if s.bus.registry.Contains(sub.id) {
			n++
		}
	}
	return n
}

// IsClosed returns true if the subscriber has been closed.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bus returns the underlying bus.
func (s *Subscriber) Bus() *Bus {
	return s.bus
}
