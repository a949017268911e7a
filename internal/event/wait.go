package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/tickbus/internal/event/topic"
)

// WaitResult is the outcome of a successful wait.
type WaitResult struct {
	// Payload is the payload of the event that satisfied the wait.
	Payload any

	// Event is the full event.
	Event Event
}

// waitSet tracks pending waits so Shutdown can fail them.
type waitSet struct {
	mu    sync.Mutex
	next  uint64
	fails map[uint64]func(error)
}

func newWaitSet() *waitSet {
	return &waitSet{fails: make(map[uint64]func(error))}
}

func (w *waitSet) add(fail func(error)) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next++
	w.fails[w.next] = fail
	return w.next
}

func (w *waitSet) remove(token uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.fails, token)
}

func (w *waitSet) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.fails)
}

// failAll fails every tracked wait. Failing a wait removes it from the
// set, so the callbacks run without w.mu held.
func (w *waitSet) failAll(err error) {
	w.mu.Lock()
	fails := make([]func(error), 0, len(w.fails))
	for _, fn := range w.fails {
		fails = append(fails, fn)
	}
	w.mu.Unlock()

	for _, fn := range fails {
		fn(err)
	}
}

// PendingWaits returns the number of single waits that have not settled.
func (b *Bus) PendingWaits() int {
	return b.waits.len()
}

// WaitForEvent resolves with the next event of type t.
//
// The future fails with ErrTimeout once timeout elapses (timeout <= 0
// waits indefinitely), with ctx's error when ctx is done, with
// ErrCanceled on Cancel or when its listener is unsubscribed, and with
// ErrBusClosed on Shutdown. However the
// wait ends, its listener and timer are released, and whichever outcome
// comes first wins.
func (b *Bus) WaitForEvent(ctx context.Context, t topic.Topic, timeout time.Duration) *Future[WaitResult] {
	if t.IsEmpty() {
		return settledFuture(WaitResult{}, ErrInvalidTopic)
	}
	if !b.isOpen() {
		return settledFuture(WaitResult{}, ErrBusClosed)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return settledFuture(WaitResult{}, err)
	}

	f := newFuture[WaitResult]()
	fail := func(err error) { f.settle(WaitResult{}, err) }

	listener := ListenerFunc(func(payload any, ev Event) (any, error) {
		f.settle(WaitResult{Payload: payload, Event: ev}, nil)
		return nil, nil
	})
	cfg := DefaultSubscriptionConfig()
	cfg.onRemove = func() { fail(ErrCanceled) }
	id, err := b.registry.Add(t, listener, cfg)
	if err != nil {
		fail(err)
		return f
	}
	f.listener = id
	f.onCleanup(func() { b.registry.Remove(t, id) })

	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			fail(fmt.Errorf("%w: %q after %v", ErrTimeout, t, timeout))
		})
		f.onCleanup(func() { timer.Stop() })
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { fail(ctx.Err()) })
		f.onCleanup(func() { stop() })
	}

	token := b.waits.add(fail)
	f.onCleanup(func() { b.waits.remove(token) })

	// Shutdown may have run between the open check and registering.
	if !b.isOpen() {
		fail(ErrBusClosed)
	}
	return f
}

// WaitForEvents resolves once every type in types has been seen, with
// results in the order of types. Each type is awaited independently, so
// a repeated type is satisfied by the same event. The first child
// failure fails the whole wait; the other children keep their own
// timers and clean up when those fire. An empty list resolves at once
// with an empty slice.
func (b *Bus) WaitForEvents(ctx context.Context, types []topic.Topic, timeout time.Duration) *Future[[]WaitResult] {
	if len(types) == 0 {
		return settledFuture([]WaitResult{}, nil)
	}
	if err := b.checkWaitTypes(types); err != nil {
		return settledFuture([]WaitResult(nil), err)
	}

	f := newFuture[[]WaitResult]()
	results := make([]WaitResult, len(types))
	var remaining atomic.Int32
	remaining.Store(int32(len(types)))

	children := b.spawnWaits(ctx, types, timeout)
	f.adopt(children)

	for i, child := range children {
		child.onSettle(func(v WaitResult, err error) {
			if err != nil {
				f.settle(nil, err)
				return
			}
			results[i] = v
			if remaining.Add(-1) == 0 {
				out := make([]WaitResult, len(results))
				copy(out, results)
				f.settle(out, nil)
			}
		})
	}
	return f
}

// WaitForAnyEvent resolves with the outcome of whichever child wait
// settles first, success or failure. The remaining children stay
// registered until their own timeout; call Release or Cancel on the
// returned future to drop them. An empty list fails with
// ErrInvalidArgument.
func (b *Bus) WaitForAnyEvent(ctx context.Context, types []topic.Topic, timeout time.Duration) *Future[WaitResult] {
	if len(types) == 0 {
		return settledFuture(WaitResult{}, fmt.Errorf("%w: no event types to wait for", ErrInvalidArgument))
	}
	if err := b.checkWaitTypes(types); err != nil {
		return settledFuture(WaitResult{}, err)
	}

	f := newFuture[WaitResult]()
	children := b.spawnWaits(ctx, types, timeout)
	f.adopt(children)

	for _, child := range children {
		child.onSettle(func(v WaitResult, err error) {
			f.settle(v, err)
		})
	}
	return f
}

func (b *Bus) checkWaitTypes(types []topic.Topic) error {
	for _, t := range types {
		if t.IsEmpty() {
			return ErrInvalidTopic
		}
	}
	if !b.isOpen() {
		return ErrBusClosed
	}
	return nil
}

func (b *Bus) spawnWaits(ctx context.Context, types []topic.Topic, timeout time.Duration) []*Future[WaitResult] {
	children := make([]*Future[WaitResult], len(types))
	for i, t := range types {
		children[i] = b.WaitForEvent(ctx, t, timeout)
	}
	return children
}
