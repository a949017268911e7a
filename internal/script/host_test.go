package script

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tickbus/internal/event"
)

func newHost(t *testing.T, bus *event.Bus, opts ...Option) *Host {
	t.Helper()
	h, err := NewHost(bus, opts...)
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func mustLoad(t *testing.T, h *Host, code string) {
	t.Helper()
	if err := h.LoadString(code); err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
}

func global(h *Host, name string) any {
	return toGo(h.L.GetGlobal(name))
}

func TestNewHost_NoBus(t *testing.T) {
	if _, err := NewHost(nil); !errors.Is(err, ErrNoBus) {
		t.Errorf("NewHost(nil) error = %v, want ErrNoBus", err)
	}
}

func TestNewHost_Sandbox(t *testing.T) {
	h := newHost(t, event.New())

	removed := []string{"dofile", "loadfile", "load", "loadstring", "io", "os", "debug"}
	for _, name := range removed {
		t.Run(name, func(t *testing.T) {
			if v := h.L.GetGlobal(name); v != lua.LNil {
				t.Errorf("global %s = %v, want nil", name, v)
			}
		})
	}

	available := []string{"string", "table", "math", "pairs", "bus"}
	for _, name := range available {
		t.Run(name, func(t *testing.T) {
			if v := h.L.GetGlobal(name); v == lua.LNil {
				t.Errorf("global %s missing", name)
			}
		})
	}
}

func TestHost_OnReceivesPayloadAndEvent(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	bus := event.New(event.WithClock(func() time.Time { return now }))
	h := newHost(t, bus)

	mustLoad(t, h, `
		bus.on("player.move", function(p, ev)
			seen_x = p.x
			seen_type = ev.type
			seen_id = ev.id
			seen_ts = ev.timestamp
			return p.x * 2
		end)
	`)

	id, results, err := bus.PublishImmediate("player.move", map[string]any{"x": 3})
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(results, []any{int64(6)}) {
		t.Errorf("results = %v, want [6]", results)
	}
	if got := global(h, "seen_x"); got != int64(3) {
		t.Errorf("seen_x = %v, want 3", got)
	}
	if got := global(h, "seen_type"); got != "player.move" {
		t.Errorf("seen_type = %v", got)
	}
	if got := global(h, "seen_id"); got != int64(id) {
		t.Errorf("seen_id = %v, want %d", got, id)
	}
	if got := global(h, "seen_ts"); got != now.UnixMilli() {
		t.Errorf("seen_ts = %v, want %d", got, now.UnixMilli())
	}
}

func TestHost_Priority(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus)

	mustLoad(t, h, `
		order = {}
		bus.on("tick", function() table.insert(order, "low") end, -10)
		bus.on("tick", function() table.insert(order, "high") end, 10)
	`)
	bus.Subscribe("tick", event.Func(func(any, event.Event) {
		h.L.DoString(`table.insert(order, "go")`)
	}))

	bus.PublishImmediate("tick", nil)

	want := []any{"high", "go", "low"}
	if got := global(h, "order"); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestHost_DefaultPriority(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus, WithPriority(event.PriorityHigh))

	mustLoad(t, h, `bus.on("a", function() end)`)

	info := bus.Listeners("a")
	if len(info) != 1 || info[0].Priority != event.PriorityHigh {
		t.Errorf("Listeners(a) = %+v, want one at PriorityHigh", info)
	}
}

func TestHost_Once(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus)

	mustLoad(t, h, `
		count = 0
		bus.once("a", function() count = count + 1 end)
	`)
	if h.ListenerCount() != 1 {
		t.Fatalf("ListenerCount() = %d, want 1", h.ListenerCount())
	}

	bus.PublishImmediate("a", nil)
	bus.PublishImmediate("a", nil)

	if got := global(h, "count"); got != int64(1) {
		t.Errorf("count = %v, want 1", got)
	}
	if h.ListenerCount() != 0 {
		t.Errorf("ListenerCount() = %d after firing, want 0", h.ListenerCount())
	}
	if len(h.handles) != 0 {
		t.Errorf("handles = %v, want empty", h.handles)
	}
}

func TestHost_Off(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus)

	mustLoad(t, h, `
		id = bus.on("a", function() end)
		wrong_type = bus.off("b", id)
		first = bus.off("a", id)
		second = bus.off("a", id)
		unknown = bus.off("a", "nope")
	`)

	tests := []struct {
		name string
		want bool
	}{
		{"wrong_type", false},
		{"first", true},
		{"second", false},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := global(h, tt.name); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if n := bus.ListenerCount("a"); n != 0 {
		t.Errorf("ListenerCount(a) = %d, want 0", n)
	}
}

func TestHost_PublishQueued(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus)

	var got any
	bus.Subscribe("score", event.Func(func(p any, _ event.Event) { got = p }))

	mustLoad(t, h, `queued_id = bus.publish("score", {points = 10, tags = {"a", "b"}})`)

	if bus.QueueLen() != 1 {
		t.Fatalf("QueueLen() = %d, want 1", bus.QueueLen())
	}
	if id := global(h, "queued_id"); id != int64(1) {
		t.Errorf("queued_id = %v, want 1", id)
	}

	bus.ProcessEvents()

	want := map[string]any{"points": int64(10), "tags": []any{"a", "b"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("payload = %#v, want %#v", got, want)
	}
}

func TestHost_PublishImmediateResults(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus)

	bus.SubscribeFunc("ping", func(any, event.Event) (any, error) { return "pong", nil })

	mustLoad(t, h, `
		local id, results = bus.publish("ping", nil, true)
		ping_id = id
		reply = results[1]
	`)

	if got := global(h, "reply"); got != "pong" {
		t.Errorf("reply = %v, want pong", got)
	}
	if got := global(h, "ping_id"); got != int64(1) {
		t.Errorf("ping_id = %v, want 1", got)
	}
}

func TestHost_PublishFailureReturnsMessage(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus)
	bus.Shutdown()

	mustLoad(t, h, `id, msg = bus.publish("a", 1)`)

	if got := global(h, "id"); got != nil {
		t.Errorf("id = %v, want nil", got)
	}
	msg, _ := global(h, "msg").(string)
	if msg != event.ErrBusClosed.Error() {
		t.Errorf("msg = %q, want %q", msg, event.ErrBusClosed.Error())
	}
}

func TestHost_LuaErrorIsFault(t *testing.T) {
	var faults []*event.ListenerFault
	bus := event.New(event.WithFaultHandler(func(f *event.ListenerFault) { faults = append(faults, f) }))
	h := newHost(t, bus)

	mustLoad(t, h, `bus.on("a", function() error("boom") end, 10)`)
	ran := false
	bus.Subscribe("a", event.Func(func(any, event.Event) { ran = true }))

	bus.PublishImmediate("a", nil)

	if !ran {
		t.Error("listener after the failing script did not run")
	}
	if len(faults) != 1 {
		t.Fatalf("faults = %d, want 1", len(faults))
	}
	if !strings.Contains(faults[0].Error(), "boom") {
		t.Errorf("fault = %v, want it to mention boom", faults[0])
	}
	if bus.Stats().ListenerFaults != 1 {
		t.Errorf("ListenerFaults = %d, want 1", bus.Stats().ListenerFaults)
	}
}

func TestHost_CallTimeout(t *testing.T) {
	var faults []*event.ListenerFault
	bus := event.New(event.WithFaultHandler(func(f *event.ListenerFault) { faults = append(faults, f) }))
	h := newHost(t, bus, WithCallTimeout(20*time.Millisecond))

	mustLoad(t, h, `
		bus.on("spin", function() while true do end end)
		bus.on("ok", function() return "fine" end)
	`)

	bus.PublishImmediate("spin", nil)

	if len(faults) != 1 || !errors.Is(faults[0].Err, ErrCallTimeout) {
		t.Fatalf("faults = %v, want one ErrCallTimeout", faults)
	}

	// The state stays usable after a timeout.
	_, results, _ := bus.PublishImmediate("ok", nil)
	if !reflect.DeepEqual(results, []any{"fine"}) {
		t.Errorf("results after timeout = %v, want [fine]", results)
	}
}

func TestHost_LoadErrors(t *testing.T) {
	h := newHost(t, event.New())

	tests := []struct {
		name string
		code string
	}{
		{"syntax", `bus.on(`},
		{"runtime", `error("load failed")`},
		{"bad argument", `bus.on("a", 42)`},
		{"empty type", `bus.on("", function() end)`},
		{"removed loader", `dofile("x.lua")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.LoadString(tt.code); err == nil {
				t.Error("LoadString() error = nil, want error")
			}
		})
	}
}

func TestHost_LoadFile(t *testing.T) {
	bus := event.New()
	h := newHost(t, bus, WithName("greeter"))

	path := filepath.Join(t.TempDir(), "greeter.lua")
	code := `bus.on("greet", function(p) return "hello " .. p end)`
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	_, results, _ := bus.PublishImmediate("greet", "bus")
	if !reflect.DeepEqual(results, []any{"hello bus"}) {
		t.Errorf("results = %v", results)
	}

	if err := h.LoadFile(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("LoadFile(missing) error = nil")
	}
}

func TestHost_Close(t *testing.T) {
	bus := event.New()
	h, err := NewHost(bus)
	if err != nil {
		t.Fatal(err)
	}

	mustLoad(t, h, `
		bus.on("a", function() end)
		bus.on("b", function() end)
	`)
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := bus.ListenerCount("a") + bus.ListenerCount("b"); n != 0 {
		t.Errorf("listeners after Close = %d, want 0", n)
	}
	if err := h.LoadString(`x = 1`); !errors.Is(err, ErrHostClosed) {
		t.Errorf("LoadString after Close error = %v, want ErrHostClosed", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
