package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newWatcher(t *testing.T, opts ...Option) *Watcher {
	t.Helper()
	w, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// collector records events delivered to a handler.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range c.snapshot() {
			if match(e) {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no matching event; got %v", c.snapshot())
	return Event{}
}

func TestNew(t *testing.T) {
	w := newWatcher(t)
	if w.debounce != 100*time.Millisecond {
		t.Errorf("default debounce = %v, want 100ms", w.debounce)
	}

	w = newWatcher(t, WithDebounce(50*time.Millisecond))
	if w.debounce != 50*time.Millisecond {
		t.Errorf("debounce = %v, want 50ms", w.debounce)
	}
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpWrite, "write"},
		{OpCreate, "create"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestWatcher_WatchUnwatch(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "tickbus.toml")
	if err := os.WriteFile(existing, []byte("test"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newWatcher(t)
	if err := w.Watch(existing); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := w.Watch(existing); err != nil {
		t.Fatalf("second Watch() error = %v", err)
	}

	// A missing file in an existing directory is watched for creation.
	if err := w.Watch(filepath.Join(tmpDir, "later.yaml")); err != nil {
		t.Fatalf("Watch() for missing file error = %v", err)
	}
	if got := len(w.WatchedFiles()); got != 2 {
		t.Errorf("WatchedFiles() = %d files, want 2", got)
	}
	if w.dirs[mustAbs(t, tmpDir)] != 2 {
		t.Errorf("dir refcount = %d, want 2", w.dirs[mustAbs(t, tmpDir)])
	}

	if err := w.Unwatch(existing); err != nil {
		t.Errorf("Unwatch() error = %v", err)
	}
	if got := len(w.WatchedFiles()); got != 1 {
		t.Errorf("WatchedFiles() = %d files, want 1", got)
	}

	if err := w.Watch(filepath.Join(tmpDir, "nodir", "x.toml")); err == nil {
		t.Error("Watch() in a missing directory should fail")
	}
}

func TestWatcher_StartClose(t *testing.T) {
	w := newWatcher(t)

	if w.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after Close()")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := w.Start(); err != ErrWatcherClosed {
		t.Errorf("Start() after Close() = %v, want ErrWatcherClosed", err)
	}
	if err := w.Watch("x.toml"); err != ErrWatcherClosed {
		t.Errorf("Watch() after Close() = %v, want ErrWatcherClosed", err)
	}
}

func TestWatcher_DetectsModification(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "tickbus.toml")
	other := filepath.Join(tmpDir, "other.toml")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newWatcher(t, WithDebounce(0))
	var c collector
	w.OnChange(c.handle)
	if err := w.Watch(tmpFile); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(other, []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmpFile, []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}

	want := mustAbs(t, tmpFile)
	c.waitFor(t, func(e Event) bool { return e.Path == want && e.Op == OpWrite })

	for _, e := range c.snapshot() {
		if e.Path != want {
			t.Errorf("event for unwatched file %q", e.Path)
		}
	}
}

func TestWatcher_DetectsCreationAndRemoval(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "new.yaml")

	w := newWatcher(t, WithDebounce(0))
	var c collector
	w.OnChange(c.handle)
	if err := w.Watch(tmpFile); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	want := mustAbs(t, tmpFile)

	if err := os.WriteFile(tmpFile, []byte("created"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, func(e Event) bool { return e.Path == want && e.Op == OpCreate })

	if err := os.Remove(tmpFile); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, func(e Event) bool { return e.Path == want && e.Op == OpRemove })
}

func TestWatcher_Debounce(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "debounce.toml")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newWatcher(t, WithDebounce(100*time.Millisecond))
	var eventCount atomic.Int32
	w.OnChange(func(Event) { eventCount.Add(1) })
	if err := w.Watch(tmpFile); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(tmpFile, []byte("modified"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for eventCount.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(250 * time.Millisecond)

	// One coalesced event, or two at a tick boundary.
	if count := eventCount.Load(); count < 1 || count > 2 {
		t.Errorf("received %d events, expected 1-2 (debounced)", count)
	}
}

func TestWatcher_QueueEventCoalesces(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{"create then write", []Operation{OpCreate, OpWrite, OpWrite}, OpCreate},
		{"write then write", []Operation{OpWrite, OpWrite}, OpWrite},
		{"write then remove", []Operation{OpWrite, OpRemove}, OpRemove},
		{"remove then create", []Operation{OpRemove, OpCreate}, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWatcher(t)
			for _, op := range tt.ops {
				w.queueEvent(Event{Path: "/x.toml", Op: op, Time: time.Now()})
			}
			if got := w.pendingFiles["/x.toml"].Op; got != tt.want {
				t.Errorf("coalesced op = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatcher_HandlerPanicIsRecovered(t *testing.T) {
	w := newWatcher(t, WithDebounce(0))

	var called atomic.Bool
	w.OnChange(func(Event) { panic("boom") })
	w.OnChange(func(Event) { called.Store(true) })

	w.emitEvent(Event{Path: "/x.toml", Op: OpWrite})
	if !called.Load() {
		t.Error("second handler not called after first panicked")
	}
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}
