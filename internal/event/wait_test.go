package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/tickbus/internal/event/topic"
)

// pump drives the bus from a background goroutine until the returned
// stop function is called.
func pump(bus *Bus) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bus.Update(time.Millisecond)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func TestWaitForEvent_Resolves(t *testing.T) {
	bus := New()
	stop := pump(bus)
	defer stop()

	f := bus.WaitForEvent(context.Background(), "X", 500*time.Millisecond)
	if f.Settled() {
		t.Fatal("wait settled before publish")
	}
	if !f.ListenerID().IsValid() {
		t.Error("single wait should expose its listener ID")
	}

	time.AfterFunc(10*time.Millisecond, func() { bus.Publish("X", "payload") })

	res, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() err = %v", err)
	}
	if res.Payload != "payload" || res.Event.Type != "X" {
		t.Errorf("Wait() = %+v", res)
	}

	// Let the timer's deadline pass; the outcome must not change.
	time.Sleep(20 * time.Millisecond)
	if _, err := f.Result(); err != nil {
		t.Errorf("Result() after resolve = %v, want nil", err)
	}
	if n := bus.ListenerCount("X"); n != 0 {
		t.Errorf("ListenerCount(X) = %d, want 0", n)
	}
	if n := bus.PendingWaits(); n != 0 {
		t.Errorf("PendingWaits() = %d, want 0", n)
	}
}

func TestWaitForEvent_Timeout(t *testing.T) {
	bus := New()

	start := time.Now()
	f := bus.WaitForEvent(context.Background(), "X", 50*time.Millisecond)
	_, err := f.Wait(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("timed out after %v, want about 50ms", elapsed)
	}
	if n := bus.ListenerCount("X"); n != 0 {
		t.Errorf("dangling listener after timeout: count = %d", n)
	}

	// A late event must not resurrect the settled wait.
	bus.PublishImmediate("X", "late")
	if _, err := f.Result(); !errors.Is(err, ErrTimeout) {
		t.Errorf("Result() after late publish = %v, want ErrTimeout", err)
	}
}

func TestWaitForEvent_SettlesOnce(t *testing.T) {
	bus := New()

	f := bus.WaitForEvent(context.Background(), "X", 0)
	bus.PublishImmediate("X", 1)

	if f.Cancel() {
		t.Error("Cancel() on a settled wait should return false")
	}
	if f.settle(WaitResult{Payload: 2}, nil) {
		t.Error("a second settle must lose")
	}
	res, err := f.Result()
	if err != nil || res.Payload != 1 {
		t.Errorf("Result() = %+v, %v; want payload 1", res, err)
	}
}

func TestWaitForEvent_Cancel(t *testing.T) {
	bus := New()

	f := bus.WaitForEvent(context.Background(), "X", 0)
	if !f.Cancel() {
		t.Fatal("Cancel() should return true for a pending wait")
	}
	if _, err := f.Result(); !errors.Is(err, ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
	if n := bus.ListenerCount("X"); n != 0 {
		t.Errorf("ListenerCount(X) = %d after cancel", n)
	}
}

func TestWaitForEvent_UnsubscribeCancels(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		remove  func(bus *Bus, id ListenerID) bool
	}{
		{"by id, no timeout", 0, func(bus *Bus, id ListenerID) bool {
			return bus.Unsubscribe("X", id)
		}},
		{"by id, with timeout", 30 * time.Millisecond, func(bus *Bus, id ListenerID) bool {
			return bus.Unsubscribe("X", id)
		}},
		{"remove type", 0, func(bus *Bus, _ ListenerID) bool {
			return bus.RemoveAllListeners("X") == 1
		}},
		{"remove all", 0, func(bus *Bus, _ ListenerID) bool {
			return bus.RemoveAllListeners() == 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := New()
			f := bus.WaitForEvent(context.Background(), "X", tt.timeout)

			if !tt.remove(bus, f.ListenerID()) {
				t.Fatal("removing the wait listener should succeed")
			}
			if !f.Settled() {
				t.Fatal("wait still pending after its listener was removed")
			}
			if _, err := f.Result(); !errors.Is(err, ErrCanceled) {
				t.Errorf("err = %v, want ErrCanceled", err)
			}
			if n := bus.PendingWaits(); n != 0 {
				t.Errorf("PendingWaits() = %d, want 0", n)
			}

			// A timer that was armed must not override the cancellation.
			time.Sleep(2 * tt.timeout)
			if _, err := f.Result(); !errors.Is(err, ErrCanceled) {
				t.Errorf("err after deadline = %v, want ErrCanceled", err)
			}
		})
	}
}

func TestWaitForEvent_ShutdownWinsOverRemoval(t *testing.T) {
	bus := New()
	f := bus.WaitForEvent(context.Background(), "X", 0)

	bus.Shutdown()
	if _, err := f.Result(); !errors.Is(err, ErrBusClosed) {
		t.Errorf("err = %v, want ErrBusClosed", err)
	}
}

func TestWaitForEvent_Context(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	f := bus.WaitForEvent(ctx, "X", 0)
	cancel()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("wait did not settle after context cancel")
	}
	if _, err := f.Result(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	done, cancel2 := context.WithCancel(context.Background())
	cancel2()
	f2 := bus.WaitForEvent(done, "X", 0)
	if !f2.Settled() {
		t.Error("wait on a done context should settle immediately")
	}
	if n := bus.ListenerCount("X"); n != 0 {
		t.Errorf("ListenerCount(X) = %d", n)
	}
}

func TestWaitForEvent_Invalid(t *testing.T) {
	bus := New()

	f := bus.WaitForEvent(context.Background(), "", time.Second)
	if _, err := f.Result(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty type: err = %v, want ErrInvalidArgument", err)
	}

	bus.Shutdown()
	f = bus.WaitForEvent(context.Background(), "X", time.Second)
	if _, err := f.Result(); !errors.Is(err, ErrBusClosed) {
		t.Errorf("closed bus: err = %v, want ErrBusClosed", err)
	}
}

func TestFuture_ResultPending(t *testing.T) {
	f := newFuture[int]()
	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Errorf("Result() on pending = %v, want ErrPending", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
	if f.Settled() {
		t.Error("abandoning Wait must not settle the future")
	}
}

func TestWaitForEvents_All(t *testing.T) {
	bus := New()

	f := bus.WaitForEvents(context.Background(), []topic.Topic{"a", "b", "a"}, time.Second)

	bus.PublishImmediate("b", 2)
	if f.Settled() {
		t.Fatal("settled before every type was seen")
	}
	bus.PublishImmediate("a", 1)

	res, err := f.Result()
	if err != nil {
		t.Fatalf("Result() err = %v", err)
	}
	if len(res) != 3 || res[0].Payload != 1 || res[1].Payload != 2 || res[2].Payload != 1 {
		t.Errorf("results = %+v, want payloads [1 2 1] in input order", res)
	}
	if n := bus.PendingWaits(); n != 0 {
		t.Errorf("PendingWaits() = %d, want 0", n)
	}
}

func TestWaitForEvents_FirstFailureWins(t *testing.T) {
	bus := New()

	f := bus.WaitForEvents(context.Background(), []topic.Topic{"a", "b"}, 20*time.Millisecond)
	bus.PublishImmediate("a", nil)

	_, err := f.Wait(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitForEvents_Empty(t *testing.T) {
	bus := New()

	res, err := bus.WaitForEvents(context.Background(), nil, time.Second).Result()
	if err != nil || res == nil || len(res) != 0 {
		t.Errorf("Result() = %v, %v; want empty slice, nil", res, err)
	}
}

func TestWaitForAnyEvent(t *testing.T) {
	bus := New()

	f := bus.WaitForAnyEvent(context.Background(), []topic.Topic{"a", "b", "c"}, 0)
	bus.PublishImmediate("b", "bee")

	res, err := f.Result()
	if err != nil || res.Payload != "bee" {
		t.Fatalf("Result() = %+v, %v; want bee", res, err)
	}

	// Losing waits stay registered until released.
	if n := bus.PendingWaits(); n != 2 {
		t.Errorf("PendingWaits() = %d, want 2 before Release", n)
	}
	f.Release()
	if n := bus.PendingWaits(); n != 0 {
		t.Errorf("PendingWaits() = %d, want 0 after Release", n)
	}
	if n := bus.ListenerCount("a") + bus.ListenerCount("c"); n != 0 {
		t.Errorf("listeners left after Release: %d", n)
	}
}

func TestWaitForAnyEvent_CancelReleasesChildren(t *testing.T) {
	bus := New()

	f := bus.WaitForAnyEvent(context.Background(), []topic.Topic{"a", "b"}, 0)
	if !f.Cancel() {
		t.Fatal("Cancel() should return true")
	}
	if _, err := f.Result(); !errors.Is(err, ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
	if n := bus.PendingWaits(); n != 0 {
		t.Errorf("PendingWaits() = %d, want 0", n)
	}
}

func TestWaitForAnyEvent_Invalid(t *testing.T) {
	bus := New()

	if _, err := bus.WaitForAnyEvent(context.Background(), nil, time.Second).Result(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty list: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := bus.WaitForAnyEvent(context.Background(), []topic.Topic{"a", ""}, time.Second).Result(); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty type: err = %v, want ErrInvalidTopic", err)
	}
	if n := bus.PendingWaits(); n != 0 {
		t.Errorf("PendingWaits() = %d after invalid input", n)
	}
}

func TestWait_FromListener(t *testing.T) {
	bus := New()

	var inner *Future[WaitResult]
	bus.Subscribe("start", Func(func(any, Event) {
		inner = bus.WaitForEvent(context.Background(), "done", time.Second)
		bus.Publish("done", "ok")
	}))

	bus.Publish("start", nil)
	bus.ProcessEvents()

	if inner == nil {
		t.Fatal("listener did not run")
	}
	res, err := inner.Result()
	if err != nil || res.Payload != "ok" {
		t.Errorf("Result() = %+v, %v; want ok", res, err)
	}
}
