// Package script hosts Lua collaborators on the event bus.
//
// A Host owns one sandboxed Lua state. Scripts see a global "bus" table:
//
//	bus.on(type, fn [, priority]) -> id
//	bus.once(type, fn [, priority]) -> id
//	bus.off(type, id) -> bool
//	bus.publish(type, payload [, immediate]) -> event id [, results]
//	bus.log(msg [, level])
//
// Listener functions are called as fn(payload, ev) where ev has id, type
// and timestamp (Unix milliseconds) fields. A non-nil return value is
// collected like any Go listener result; a Lua error is a listener fault.
//
// gopher-lua states are not goroutine-safe. A Host must only be driven
// from the goroutine that drains the bus.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tickbus/internal/event"
	"github.com/dshills/tickbus/internal/event/topic"
)

// DefaultCallTimeout bounds a single top-level Lua call.
const DefaultCallTimeout = 250 * time.Millisecond

// Host runs Lua scripts against a bus.
type Host struct {
	L      *lua.LState
	bus    *event.Bus
	sub    *event.Subscriber
	name   string
	logger zerolog.Logger

	callTimeout time.Duration
	priority    event.Priority

	handles map[string]handle
	depth   int
	closed  bool
}

type handle struct {
	typ topic.Topic
	id  event.ListenerID
}

// Option configures a Host.
type Option func(*Host)

// WithName sets the name used in logs and errors.
func WithName(name string) Option {
	return func(h *Host) {
		h.name = name
	}
}

// WithCallTimeout bounds each top-level Lua call. Zero disables the limit.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d >= 0 {
			h.callTimeout = d
		}
	}
}

// WithPriority sets the priority of listeners registered without one.
func WithPriority(p event.Priority) Option {
	return func(h *Host) {
		h.priority = p
	}
}

// WithLogger sets the logger for bus.log, print and call failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost creates a host with a fresh sandboxed Lua state.
func NewHost(bus *event.Bus, opts ...Option) (*Host, error) {
	if bus == nil {
		return nil, ErrNoBus
	}

	h := &Host{
		bus:         bus,
		sub:         event.NewSubscriber(bus),
		name:        "lua",
		logger:      zerolog.Nop(),
		callTimeout: DefaultCallTimeout,
		priority:    event.PriorityNormal,
		handles:     make(map[string]handle),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("script", h.name).Logger()

	h.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(h.L)
	h.sandbox()
	h.installAPI()

	return h, nil
}

// openSafeLibraries opens base, table, string and math. io, os, debug
// and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// sandbox removes the loaders and routes print to the logger.
func (h *Host) sandbox() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		h.L.SetGlobal(name, lua.LNil)
	}
	h.L.SetGlobal("print", h.L.NewFunction(h.luaPrint))
}

func (h *Host) installAPI() {
	mod := h.L.SetFuncs(h.L.NewTable(), map[string]lua.LGFunction{
		"on":      h.luaOn,
		"once":    h.luaOnce,
		"off":     h.luaOff,
		"publish": h.luaPublish,
		"log":     h.luaLog,
	})
	h.L.SetGlobal("bus", mod)
}

// Name returns the host name.
func (h *Host) Name() string {
	return h.name
}

// ListenerCount returns the number of listeners the scripts still hold.
func (h *Host) ListenerCount() int {
	return h.sub.Count()
}

// LoadString compiles and runs a chunk.
func (h *Host) LoadString(code string) error {
	if h.closed {
		return ErrHostClosed
	}
	fn, err := h.L.LoadString(code)
	if err != nil {
		return fmt.Errorf("script %s: %w", h.name, err)
	}
	if _, err := h.call(fn); err != nil {
		return fmt.Errorf("script %s: %w", h.name, err)
	}
	return nil
}

// LoadFile compiles and runs the file at path.
func (h *Host) LoadFile(path string) error {
	if h.closed {
		return ErrHostClosed
	}
	fn, err := h.L.LoadFile(path)
	if err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	if _, err := h.call(fn); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	h.logger.Debug().Str("path", path).Msg("script loaded")
	return nil
}

// Close unsubscribes every script listener and closes the Lua state.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	err := h.sub.Close()
	h.handles = nil
	h.L.Close()
	return err
}

// call runs fn with args. Only the outermost call arms the timeout so
// nested dispatch through bus.publish shares its deadline.
func (h *Host) call(fn *lua.LFunction, args ...lua.LValue) (results []lua.LValue, err error) {
	if h.closed {
		return nil, ErrHostClosed
	}

	var ctx context.Context
	if h.depth == 0 && h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), h.callTimeout)
		h.L.SetContext(ctx)
		defer func() {
			h.L.RemoveContext()
			cancel()
		}()
	}

	h.depth++
	defer func() { h.depth-- }()

	top := h.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			h.L.SetTop(top)
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	h.L.Push(fn)
	for _, arg := range args {
		h.L.Push(arg)
	}

	if err := h.L.PCall(len(args), lua.MultRet, nil); err != nil {
		h.L.SetTop(top)
		if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrCallTimeout, h.callTimeout)
		}
		return nil, err
	}

	n := h.L.GetTop() - top
	if n <= 0 {
		return nil, nil
	}
	results = make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = h.L.Get(top + i + 1)
	}
	h.L.Pop(n)
	return results, nil
}

// listener adapts a Lua function. fired runs before each call.
func (h *Host) listener(fn *lua.LFunction, fired func()) event.Listener {
	return event.ListenerFunc(func(payload any, ev event.Event) (any, error) {
		if fired != nil {
			fired()
		}
		results, err := h.call(fn, toLua(h.L, payload), h.eventTable(ev))
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, nil
		}
		return toGo(results[0]), nil
	})
}

func (h *Host) eventTable(ev event.Event) *lua.LTable {
	t := h.L.CreateTable(0, 3)
	t.RawSetString("id", lua.LNumber(ev.ID))
	t.RawSetString("type", lua.LString(ev.Type))
	t.RawSetString("timestamp", lua.LNumber(ev.Timestamp.UnixMilli()))
	return t
}

func (h *Host) subscribe(L *lua.LState, once bool) int {
	t := topic.Topic(L.CheckString(1))
	fn := L.CheckFunction(2)
	prio := L.OptInt(3, h.priority)

	var key string
	var (
		id  event.ListenerID
		err error
	)
	if once {
		l := h.listener(fn, func() { delete(h.handles, key) })
		id, err = h.sub.Once(t, l, event.WithPriority(prio))
	} else {
		id, err = h.sub.Subscribe(t, h.listener(fn, nil), event.WithPriority(prio))
	}
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	key = id.String()
	h.handles[key] = handle{typ: t, id: id}
	L.Push(lua.LString(key))
	return 1
}

func (h *Host) luaOn(L *lua.LState) int {
	return h.subscribe(L, false)
}

func (h *Host) luaOnce(L *lua.LState) int {
	return h.subscribe(L, true)
}

func (h *Host) luaOff(L *lua.LState) int {
	t := topic.Topic(L.CheckString(1))
	key := L.CheckString(2)

	hd, ok := h.handles[key]
	if !ok || hd.typ != t {
		L.Push(lua.LFalse)
		return 1
	}
	delete(h.handles, key)
	L.Push(lua.LBool(h.sub.Unsubscribe(t, hd.id)))
	return 1
}

// luaPublish returns nil and a message on failure, like io functions do.
func (h *Host) luaPublish(L *lua.LState) int {
	t := topic.Topic(L.CheckString(1))
	payload := toGo(L.Get(2))

	if L.OptBool(3, false) {
		id, results, err := h.bus.PublishImmediate(t, payload)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LNumber(id))
		L.Push(toLua(L, results))
		return 2
	}

	id, err := h.bus.Publish(t, payload)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (h *Host) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	level, err := zerolog.ParseLevel(L.OptString(2, "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	h.logger.WithLevel(level).Msg(msg)
	return 0
}

func (h *Host) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	h.logger.Info().Msg(strings.Join(parts, "\t"))
	return 0
}
