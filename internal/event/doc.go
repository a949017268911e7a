// Package event provides the tick-driven event bus for tickbus.
//
// The bus decouples collaborators (simulation, input mapping, asset
// loading, scripts) that react to each other's state changes without
// direct references. Producers publish typed events; consumers subscribe
// listeners by event type.
//
// # Architecture
//
//	               ┌───────────────────────────────────────┐
//	Publish ──────▶│ Queue (bounded, drop newest)          │
//	               └───────────────────────────────────────┘
//	                                  │ ProcessEvents / Update
//	                                  ▼
//	               ┌───────────────────────────────────────┐
//	PublishImmediate ─────────────▶│ ProcessEvent          │
//	               │  Registry snapshot → SyncDispatcher   │
//	               └───────────────────────────────────────┘
//	                  │                 │                │
//	                  ▼                 ▼                ▼
//	           History (ring)    StatsTracker     Dispatch hooks
//
// # Delivery
//
// Publish appends to a bounded FIFO queue, which is drained by
// ProcessEvents, normally called once per tick through Update. A drain
// runs until the queue is empty, including events queued by listeners
// while it runs. A nested drain started from a listener is a no-op.
//
// PublishImmediate runs all listeners before returning and collects their
// non-nil results:
//
//	_, results, err := bus.PublishImmediate("asset.query", "hero.png")
//
// When the queue is full, Publish drops the new event. The drop is
// counted, logged, and passed to the drop handler if one is set.
//
// # Listeners
//
// Listeners of one type run in descending priority order; equal
// priorities run in the order they were registered. Each listener sees a
// snapshot of the registry taken when dispatch of the event began.
//
//	id, err := bus.Subscribe("player.spawned", event.Func(func(p any, ev event.Event) {
//		// ...
//	}), event.WithPriority(event.PriorityHigh))
//
// A listener that returns an error or panics does not stop dispatch. The
// fault is logged, counted and reported to the fault handler.
//
// # Waiting
//
// WaitForEvent, WaitForEvents and WaitForAnyEvent return a Future that
// settles exactly once: with the event, on timeout, on context
// cancellation, on Cancel, or on Shutdown.
//
//	res, err := bus.WaitForEvent(ctx, "level.loaded", 5*time.Second).Wait(ctx)
//
// # Thread Safety
//
// All Bus methods are safe for concurrent use. The bus holds no lock
// while listeners run, so listeners may call back into it.
package event
