// Package app wires the tickbus components together and manages their
// lifecycle.
//
// New starts components in dependency order: logger, journal, bus,
// bridge, scripts, then the tick loop. Shutdown releases them in reverse.
package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/tickbus/internal/bridge"
	"github.com/dshills/tickbus/internal/config"
	"github.com/dshills/tickbus/internal/event"
	"github.com/dshills/tickbus/internal/journal"
	"github.com/dshills/tickbus/internal/logging"
	"github.com/dshills/tickbus/internal/loop"
	"github.com/dshills/tickbus/internal/script"
)

// Application owns one bus and the collaborators attached to it.
type Application struct {
	mu sync.Mutex

	cfg  config.Config
	opts options

	logger zerolog.Logger
	level  *logging.Level

	bus     *event.Bus
	journal *journal.Journal
	bridge  *bridge.Bridge
	scripts []*script.Host
	loop    *loop.Loop

	cleanups []func() error

	running   atomic.Bool
	closed    atomic.Bool
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

type options struct {
	configPath string
	loadOpts   []config.LoadOption
	logger     *zerolog.Logger
	session    string
	busOpts    []event.BusOption
}

// Option configures an Application.
type Option func(*options)

// WithConfigPath watches path while running and applies reloads.
// loadOpts are passed to every reload.
func WithConfigPath(path string, loadOpts ...config.LoadOption) Option {
	return func(o *options) {
		o.configPath = path
		o.loadOpts = loadOpts
	}
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

// WithSession sets the journal session id.
func WithSession(id string) Option {
	return func(o *options) {
		o.session = id
	}
}

// WithBusOptions appends options to the bus construction.
func WithBusOptions(opts ...event.BusOption) Option {
	return func(o *options) {
		o.busOpts = append(o.busOpts, opts...)
	}
}

// New validates cfg and starts every enabled component. If any component
// fails, those already started are released before the error returns.
func New(cfg config.Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&a.opts)
	}

	b := newBootstrapper(a)
	if err := b.bootstrap(); err != nil {
		return nil, err
	}
	a.cleanups = b.cleanups

	a.logger.Info().
		Strs("components", b.initOrder).
		Dur("tick_period", a.loop.Period()).
		Msg("tickbus started")
	return a, nil
}

// Run drives the tick loop until ctx is done or Shutdown is called.
func (a *Application) Run(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer close(done)
	defer cancel()

	a.mu.Lock()
	a.cancelRun, a.runDone = cancel, done
	a.mu.Unlock()

	// Shutdown may have won the race before the cancel was published.
	if a.closed.Load() {
		return ErrClosed
	}

	if a.opts.configPath != "" {
		loadOpts := append([]config.LoadOption{config.WithLogger(logging.Component(a.logger, "config"))}, a.opts.loadOpts...)
		w, err := config.Watch(a.opts.configPath, a.applyConfig, loadOpts...)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	return a.loop.Run(ctx)
}

// applyConfig applies the settings that can change while running. Other
// sections take effect on restart.
func (a *Application) applyConfig(cfg config.Config) {
	a.bus.SetLimits(cfg.Bus.MaxQueueSize, cfg.Bus.MaxHistorySize)

	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil && level != a.level.Get() {
		a.level.Set(level)
		a.logger.Info().Str("level", level.String()).Msg("log level changed")
	}

	a.mu.Lock()
	a.cfg.Bus = cfg.Bus
	a.cfg.Logging.Level = cfg.Logging.Level
	a.mu.Unlock()
}

// Shutdown stops a running loop and releases every component in reverse
// start order. It is safe to call more than once.
func (a *Application) Shutdown() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	cancel, done := a.cancelRun, a.runDone
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	a.logger.Info().Msg("tickbus shutting down")
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown")
		}
	}
	a.cleanups = nil
}

// IsRunning reports whether Run is active.
func (a *Application) IsRunning() bool {
	return a.running.Load()
}

// Config returns the active configuration.
func (a *Application) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Logger returns the application logger.
func (a *Application) Logger() zerolog.Logger {
	return a.logger
}

// Bus returns the event bus.
func (a *Application) Bus() *event.Bus {
	return a.bus
}

// Journal returns the journal, nil when disabled.
func (a *Application) Journal() *journal.Journal {
	return a.journal
}

// Bridge returns the Redis bridge, nil when disabled.
func (a *Application) Bridge() *bridge.Bridge {
	return a.bridge
}

// Scripts returns the loaded script hosts.
func (a *Application) Scripts() []*script.Host {
	return a.scripts
}

// Loop returns the tick loop.
func (a *Application) Loop() *loop.Loop {
	return a.loop
}

// Stats is a point-in-time report across components.
type Stats struct {
	Bus     event.Stats          `json:"bus"`
	Loop    loop.MetricsSnapshot `json:"loop"`
	Journal *journal.Stats       `json:"journal,omitempty"`
	Bridge  *bridge.Stats        `json:"bridge,omitempty"`
	Scripts int                  `json:"scripts"`
}

// Stats collects current statistics.
func (a *Application) Stats() Stats {
	s := Stats{
		Bus:     a.bus.Stats(),
		Loop:    a.loop.Metrics().Snapshot(),
		Scripts: len(a.scripts),
	}
	if a.journal != nil {
		js := a.journal.Stats()
		s.Journal = &js
	}
	if a.bridge != nil {
		bs := a.bridge.Stats()
		s.Bridge = &bs
	}
	return s
}
