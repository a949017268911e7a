package event

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/tickbus/internal/event/dispatch"
	"github.com/dshills/tickbus/internal/event/topic"
)

const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

// Bus is an in-process publish/subscribe hub.
//
// Publish queues an event for the next drain; PublishImmediate runs
// listeners before returning. Queued events are drained by ProcessEvents,
// usually once per tick through Update. Listeners run on the draining
// goroutine with no bus lock held, so they may subscribe, unsubscribe,
// publish and wait freely. Events they queue during a drain are processed
// by the same drain.
//
// A listener that unconditionally queues an event of its own type makes
// the drain loop forever.
//
// All methods are safe for concurrent use.
type Bus struct {
	registry   *Registry
	queue      *Queue
	history    *History
	stats      *StatsTracker
	dispatcher *dispatch.SyncDispatcher
	waits      *waitSet

	config busConfig
	logger zerolog.Logger

	state    atomic.Int32
	draining atomic.Bool
	lastID   atomic.Uint64
}

// New creates an event bus with the given options.
func New(opts ...BusOption) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}

	b := &Bus{
		registry: NewRegistry(),
		queue:    NewQueue(config.maxQueueSize),
		history:  NewHistory(config.maxHistorySize),
		stats:    NewStatsTracker(),
		waits:    newWaitSet(),
		config:   config,
		logger:   config.logger.With().Str("component", "event").Logger(),
	}

	// Faults are reported from ProcessEvent with listener context.
	b.dispatcher = dispatch.NewSyncDispatcher()

	return b
}

func (b *Bus) isOpen() bool {
	return b.state.Load() == stateOpen
}

// IsClosed reports whether Shutdown has begun.
func (b *Bus) IsClosed() bool {
	return !b.isOpen()
}

func (b *Bus) newEvent(t topic.Topic, payload any) Event {
	return Event{
		ID:        EventID(b.lastID.Add(1)),
		Type:      t,
		Payload:   payload,
		Timestamp: b.config.clock(),
	}
}

// Subscribe registers l for events of type t and returns its ID.
// Listeners of one type run in descending priority; equal priorities run
// in registration order.
func (b *Bus) Subscribe(t topic.Topic, l Listener, opts ...SubscribeOption) (ListenerID, error) {
	if !b.isOpen() {
		return 0, ErrBusClosed
	}

	cfg := newSubscriptionConfig(opts)
	id, err := b.registry.Add(t, l, cfg)
	if err != nil {
		return 0, err
	}

	b.logger.Debug().
		Str("type", string(t)).
		Str("listener", id.String()).
		Int("priority", cfg.Priority).
		Msg("listener subscribed")
	return id, nil
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(t topic.Topic, fn ListenerFunc, opts ...SubscribeOption) (ListenerID, error) {
	if fn == nil {
		return 0, ErrNilListener
	}
	return b.Subscribe(t, fn, opts...)
}

// Once registers l for the next event of type t only. The listener is
// removed before it runs, so a publish of t from inside l is not
// delivered back to it.
func (b *Bus) Once(t topic.Topic, l Listener, opts ...SubscribeOption) (ListenerID, error) {
	if isNilListener(l) {
		return 0, ErrNilListener
	}

	wrapped := &onceListener{registry: b.registry, typ: t, inner: l}
	opts = append(opts, func(c *SubscriptionConfig) { c.Once = true })
	id, err := b.Subscribe(t, wrapped, opts...)
	if err != nil {
		return 0, err
	}
	wrapped.bind(id)
	return id, nil
}

// Unsubscribe removes the listener with the given ID from type t.
// It returns false if no such listener is registered.
func (b *Bus) Unsubscribe(t topic.Topic, id ListenerID) bool {
	removed := b.registry.Remove(t, id)
	if removed {
		b.logger.Debug().
			Str("type", string(t)).
			Str("listener", id.String()).
			Msg("listener unsubscribed")
	}
	return removed
}

// UnsubscribeListener removes the first registration of l on type t.
// See Registry.RemoveListener for how identity is decided.
func (b *Bus) UnsubscribeListener(t topic.Topic, l Listener) bool {
	return b.registry.RemoveListener(t, l)
}

// RemoveAllListeners removes every listener of the given types, or every
// listener when no types are given. It returns the number removed.
// Pending waits on the removed types settle with ErrCanceled.
func (b *Bus) RemoveAllListeners(types ...topic.Topic) int {
	if len(types) == 0 {
		return b.registry.Clear()
	}

	removed := 0
	for _, t := range types {
		removed += b.registry.RemoveType(t)
	}
	return removed
}

// Listeners returns the listeners for t in dispatch order.
func (b *Bus) Listeners(t topic.Topic) []ListenerInfo {
	return b.registry.Listeners(t)
}

// ListenerCount returns the number of listeners for t.
func (b *Bus) ListenerCount(t topic.Topic) int {
	return b.registry.CountByType(t)
}

// Types returns the event types that have listeners.
func (b *Bus) Types() []topic.Topic {
	return b.registry.Types()
}

// Publish queues an event for the next drain and returns its ID.
//
// If the queue is full the event is dropped: it is counted, logged and
// passed to the drop handler, and its ID is still returned. Callers that
// must know can compare Stats().EventsDropped or use a drop handler.
func (b *Bus) Publish(t topic.Topic, payload any) (EventID, error) {
	if t.IsEmpty() {
		return 0, ErrInvalidTopic
	}
	if !b.isOpen() {
		return 0, ErrBusClosed
	}

	ev := b.newEvent(t, payload)
	if !b.queue.Enqueue(ev) {
		b.drop(ev)
		return ev.ID, nil
	}

	b.stats.RecordQueued()
	return ev.ID, nil
}

func (b *Bus) drop(ev Event) {
	b.stats.RecordDropped()
	b.logger.Warn().
		Str("type", string(ev.Type)).
		Uint64("event_id", uint64(ev.ID)).
		Int("capacity", b.queue.Cap()).
		Msg("event queue full, dropping event")

	if h := b.config.dropHandler; h != nil {
		b.safeCall("drop handler", func() { h(ev) })
	}
}

// PublishImmediate dispatches an event synchronously, bypassing the
// queue, and returns the non-nil values its listeners returned in
// dispatch order. Events queued by those listeners wait for the next drain.
func (b *Bus) PublishImmediate(t topic.Topic, payload any) (EventID, []any, error) {
	if t.IsEmpty() {
		return 0, nil, ErrInvalidTopic
	}
	if !b.isOpen() {
		return 0, nil, ErrBusClosed
	}

	ev := b.newEvent(t, payload)
	return ev.ID, b.ProcessEvent(ev), nil
}

// ProcessEvent runs every listener registered for ev.Type against a
// snapshot taken now, records ev in history and runs dispatch hooks.
// A listener that errors or panics is reported and skipped; the rest
// still run. It returns the non-nil listener results in dispatch order.
func (b *Bus) ProcessEvent(ev Event) []any {
	var results []any

	for _, e := range b.registry.snapshot(ev.Type) {
		res := b.dispatcher.Dispatch(ev, func() (any, error) {
			if e.filter != nil && !e.filter(ev) {
				return nil, nil
			}
			return e.listener.Invoke(ev.Payload, ev)
		})
		if !res.IsSuccess() {
			b.fault(ev, e, res)
			continue
		}
		if res.Value != nil {
			results = append(results, res.Value)
		}
	}

	b.history.Record(ev)
	b.stats.RecordProcessed()

	for _, hook := range b.config.hooks {
		b.safeCall("dispatch hook", func() { hook(ev) })
	}

	return results
}

func (b *Bus) fault(ev Event, e *entry, res dispatch.Result) {
	fault := &ListenerFault{
		ListenerID: e.id,
		Type:       ev.Type,
		EventID:    ev.ID,
		Err:        res.Error,
		Panicked:   res.IsPanic(),
		PanicValue: res.PanicValue,
		Stack:      string(res.PanicStack),
	}
	b.stats.RecordFault()

	logEvent := b.logger.Error().
		Str("type", string(ev.Type)).
		Uint64("event_id", uint64(ev.ID)).
		Str("listener", e.id.String())
	switch {
	case res.IsPanic():
		logEvent = logEvent.Interface("panic", fault.PanicValue).Str("stack", fault.Stack)
	case res.IsError():
		logEvent = logEvent.Err(fault.Err)
	}
	logEvent.Msg("listener fault")

	if h := b.config.faultHandler; h != nil {
		b.safeCall("fault handler", func() { h(fault) })
	}
}

// safeCall runs a bus-owned callback, logging rather than propagating panics.
func (b *Bus) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("callback", what).Msg("callback panicked")
		}
	}()
	fn()
}

// ProcessEvents drains the queue until it is empty, including events
// queued by listeners during the drain, and returns how many events it
// processed. A nested call made from a listener returns 0 immediately;
// the outer drain picks up whatever the listener queued.
func (b *Bus) ProcessEvents() int {
	if !b.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer b.draining.Store(false)

	start := time.Now()
	n := 0
	for {
		ev, ok := b.queue.Dequeue()
		if !ok {
			break
		}
		b.ProcessEvent(ev)
		n++
	}
	elapsed := time.Since(start)
	b.stats.RecordDrain(elapsed)

	if n > 0 {
		b.logger.Trace().Int("events", n).Dur("elapsed", elapsed).Msg("queue drained")
	}
	return n
}

// Update is the per-tick entry point: it counts the tick and drains the
// queue. The bus does not use dt.
func (b *Bus) Update(dt time.Duration) {
	if b.state.Load() == stateClosed {
		return
	}
	b.stats.RecordTick()
	b.ProcessEvents()
}

// Pending returns a copy of the queued events, oldest first.
func (b *Bus) Pending() []Event {
	return b.queue.Pending()
}

// QueueLen returns the number of queued events.
func (b *Bus) QueueLen() int {
	return b.queue.Len()
}

// History returns processed events matching filter, oldest first.
func (b *Bus) History(filter HistoryFilter) []Event {
	return b.history.Query(filter)
}

// ClearHistory empties the history log.
func (b *Bus) ClearHistory() {
	b.history.Clear()
}

// SetLimits changes the queue and history capacities. Non-positive
// values leave a limit unchanged. Queued events beyond the new queue
// capacity are dropped newest first; history beyond the new capacity is
// evicted oldest first.
func (b *Bus) SetLimits(maxQueue, maxHistory int) {
	if maxQueue > 0 {
		for _, ev := range b.queue.SetCapacity(maxQueue) {
			b.drop(ev)
		}
	}
	if maxHistory > 0 {
		b.history.SetCapacity(maxHistory)
	}

	b.logger.Info().
		Int("max_queue_size", b.queue.Cap()).
		Int("max_history_size", b.history.Cap()).
		Msg("bus limits updated")
}

// Limits returns the current queue and history capacities.
func (b *Bus) Limits() (maxQueue, maxHistory int) {
	return b.queue.Cap(), b.history.Cap()
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	s := b.stats.Snapshot()

	ds := b.dispatcher.Stats()
	s.ListenerCalls = ds.Dispatched
	s.ListenerErrors = ds.Failed
	s.ListenerPanics = ds.Panicked
	s.ListenerTimeMs = float64(ds.TotalDuration) / float64(time.Millisecond)

	s.QueueDepth = b.queue.Len()
	s.HistorySize = b.history.Len()
	s.Listeners = b.registry.Count()
	return s
}

// ResetStats zeroes all counters. Gauges are unaffected.
func (b *Bus) ResetStats() {
	b.stats.Reset()
	b.dispatcher.ResetStats()
}

// Shutdown drains what is queued, fails every pending wait with
// ErrBusClosed and releases all listeners, queued events and history.
// Publishing during the final drain is rejected, which bounds it.
// Subsequent calls do nothing.
//
// When called from a listener, the enclosing drain is already running, so
// events still queued are discarded rather than delivered.
func (b *Bus) Shutdown() {
	if !b.state.CompareAndSwap(stateOpen, stateClosing) {
		return
	}
	b.logger.Info().Int("queued", b.queue.Len()).Msg("event bus shutting down")

	b.ProcessEvents()
	b.waits.failAll(ErrBusClosed)

	listeners := b.registry.Clear()
	discarded := b.queue.Clear()
	b.history.Clear()
	b.state.Store(stateClosed)

	b.logger.Info().
		Int("listeners", listeners).
		Int("discarded", discarded).
		Msg("event bus shut down")
}
