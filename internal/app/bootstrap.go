package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/tickbus/internal/bridge"
	"github.com/dshills/tickbus/internal/event"
	"github.com/dshills/tickbus/internal/event/topic"
	"github.com/dshills/tickbus/internal/journal"
	"github.com/dshills/tickbus/internal/logging"
	"github.com/dshills/tickbus/internal/loop"
	"github.com/dshills/tickbus/internal/script"
)

// connectTimeout bounds the bridge's startup ping and subscriptions.
const connectTimeout = 5 * time.Second

// bootstrapper initializes components in dependency order and releases
// the ones already started when a later one fails.
type bootstrapper struct {
	app       *Application
	initOrder []string
	cleanups  []func() error
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{
		app:       app,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap runs every init step. The journal precedes the bus because
// its hook is installed when the bus is created.
func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"logger", b.initLogger},
		{"journal", b.initJournal},
		{"bus", b.initBus},
		{"bridge", b.initBridge},
		{"scripts", b.initScripts},
		{"loop", b.initLoop},
	}

	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	return nil
}

// onCleanup registers fn to run in reverse registration order.
func (b *bootstrapper) onCleanup(fn func() error) {
	b.cleanups = append(b.cleanups, fn)
}

// cleanup releases started components in reverse order. Errors are
// logged since the init error takes precedence.
func (b *bootstrapper) cleanup() {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		if err := b.cleanups[i](); err != nil {
			b.app.logger.Warn().Err(err).Msg("cleanup after failed start")
		}
	}
	b.cleanups = nil
}

func (b *bootstrapper) initLogger() error {
	a := b.app
	if a.opts.logger != nil {
		a.logger = *a.opts.logger
		a.level = logging.NewLevel(a.logger.GetLevel())
		a.logger = a.logger.Hook(a.level)
		return nil
	}

	logger, level, closer, err := logging.NewAdjustable(a.cfg.Logging)
	if err != nil {
		return err
	}
	a.logger, a.level = logger, level
	b.onCleanup(closer.Close)
	return nil
}

func (b *bootstrapper) initJournal() error {
	a := b.app
	cfg := a.cfg.Journal
	if !cfg.Enabled {
		return nil
	}

	j, err := journal.Open(cfg.Path,
		journal.WithSession(a.opts.session),
		journal.WithTypes(cfg.Types...),
		journal.WithBufferSize(cfg.BufferSize),
		journal.WithLogger(logging.Component(a.logger, "journal")),
	)
	if err != nil {
		return err
	}
	a.journal = j
	b.onCleanup(j.Close)
	return nil
}

func (b *bootstrapper) initBus() error {
	a := b.app
	opts := []event.BusOption{
		event.WithMaxQueueSize(a.cfg.Bus.MaxQueueSize),
		event.WithMaxHistorySize(a.cfg.Bus.MaxHistorySize),
		event.WithLogger(logging.Component(a.logger, "bus")),
	}
	if a.journal != nil {
		opts = append(opts, event.WithDispatchHook(a.journal.Hook()))
	}
	opts = append(opts, a.opts.busOpts...)

	a.bus = event.New(opts...)
	b.onCleanup(func() error {
		a.bus.Shutdown()
		return nil
	})
	return nil
}

func (b *bootstrapper) initBridge() error {
	a := b.app
	cfg := a.cfg.Bridge
	if !cfg.Enabled {
		return nil
	}

	br := bridge.New(a.bus, &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	},
		bridge.WithChannelPrefix(cfg.ChannelPrefix),
		bridge.WithBufferSize(cfg.BufferSize),
		bridge.WithEchoWindow(max(bridge.DefaultEchoWindow, 2*a.cfg.Bus.MaxQueueSize)),
		bridge.WithLogger(logging.Component(a.logger, "bridge")),
	)
	a.bridge = br
	b.onCleanup(br.Close)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := br.Ping(ctx); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}

	if len(cfg.Forward) > 0 {
		if err := br.Forward(topics(cfg.Forward)...); err != nil {
			return err
		}
	}
	if len(cfg.Ingest) > 0 {
		// The subscriptions live until Close; only the handshake is bounded.
		subCtx, subCancel := context.WithCancel(context.Background())
		stop := context.AfterFunc(ctx, subCancel)
		err := br.Ingest(subCtx, topics(cfg.Ingest)...)
		stop()
		if err != nil {
			subCancel()
			return err
		}
		b.onCleanup(func() error {
			subCancel()
			return nil
		})
	}
	return nil
}

func (b *bootstrapper) initScripts() error {
	a := b.app
	paths, err := expandPaths(a.cfg.Scripts.Paths)
	if err != nil {
		return err
	}

	for _, path := range paths {
		h, err := script.NewHost(a.bus,
			script.WithName(filepath.Base(path)),
			script.WithCallTimeout(a.cfg.Scripts.CallTimeout),
			script.WithLogger(logging.Component(a.logger, "script")),
		)
		if err != nil {
			return err
		}
		b.onCleanup(h.Close)

		if err := h.LoadFile(path); err != nil {
			return err
		}
		a.scripts = append(a.scripts, h)
	}
	return nil
}

func (b *bootstrapper) initLoop() error {
	a := b.app
	a.loop = loop.New(a.bus,
		loop.WithTickRate(a.cfg.Loop.TickRate),
		loop.WithLogger(logging.Component(a.logger, "loop")),
	)
	return nil
}

// expandPaths expands glob patterns. Plain paths are kept as given so a
// missing file is reported by the loader.
func expandPaths(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[") {
			paths = append(paths, p)
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("script pattern %q: %w", p, err)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

func topics(names []string) []topic.Topic {
	ts := make([]topic.Topic, len(names))
	for i, n := range names {
		ts[i] = topic.Topic(n)
	}
	return ts
}
