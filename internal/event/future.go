package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future is the eventual outcome of a wait. It settles exactly once,
// with either a value or an error; later attempts to settle it are
// ignored. That guard is what makes a timer racing a matching event safe.
type Future[T any] struct {
	done    chan struct{}
	settled atomic.Bool

	mu       sync.Mutex
	value    T
	err      error
	cleanups []func()
	watchers []func(T, error)
	children []canceler

	listener ListenerID
}

type canceler interface {
	Cancel() bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func settledFuture[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.settle(v, err)
	return f
}

// settle records the outcome if none has been recorded yet, then runs
// cleanups followed by watchers. It reports whether this call won.
func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled.Load() {
		f.mu.Unlock()
		return false
	}
	f.value, f.err = v, err
	f.settled.Store(true)
	cleanups, watchers := f.cleanups, f.watchers
	f.cleanups, f.watchers = nil, nil
	f.mu.Unlock()

	close(f.done)
	for _, fn := range cleanups {
		fn()
	}
	for _, fn := range watchers {
		fn(v, err)
	}
	return true
}

// onCleanup registers fn to run when the future settles, or runs it now
// if it already has.
func (f *Future[T]) onCleanup(fn func()) {
	f.mu.Lock()
	if !f.settled.Load() {
		f.cleanups = append(f.cleanups, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// onSettle registers fn to observe the outcome, or calls it now if the
// future has already settled.
func (f *Future[T]) onSettle(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled.Load() {
		f.watchers = append(f.watchers, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// adopt records child waits for Release.
func (f *Future[T]) adopt(children []*Future[WaitResult]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range children {
		f.children = append(f.children, c)
	}
}

// Done returns a channel closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	return f.settled.Load()
}

// Wait blocks until the future settles or ctx is done. A done ctx only
// abandons this call; the wait itself stays pending.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	default:
		var zero T
		return zero, ErrPending
	}
}

// Cancel settles the future with ErrCanceled, releasing its listener and
// timer, and cancels any child waits still pending. It reports whether
// the future was still pending.
func (f *Future[T]) Cancel() bool {
	var zero T
	won := f.settle(zero, ErrCanceled)
	f.Release()
	return won
}

// Release cancels child waits of a composite future that are still
// pending. WaitForAnyEvent leaves the losing waits registered until they
// time out; call Release to drop them sooner. It has no effect on a
// single wait.
func (f *Future[T]) Release() {
	f.mu.Lock()
	children := f.children
	f.mu.Unlock()

	for _, c := range children {
		c.Cancel()
	}
}

// ListenerID returns the ID of the listener backing a single wait.
// Unsubscribing it settles the wait with ErrCanceled, like Cancel. It is
// zero for composite waits and for waits that failed before subscribing.
func (f *Future[T]) ListenerID() ListenerID {
	return f.listener
}
