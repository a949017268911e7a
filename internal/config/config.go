package config

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/dshills/tickbus/internal/config/loader"
	"github.com/dshills/tickbus/internal/config/watcher"
	"github.com/dshills/tickbus/internal/logging"
)

// DefaultEnvPrefix is the prefix for environment overrides.
const DefaultEnvPrefix = "TICKBUS_"

// Config is the complete tickbus configuration.
type Config struct {
	Bus     BusConfig      `toml:"bus" yaml:"bus"`
	Loop    LoopConfig     `toml:"loop" yaml:"loop"`
	Logging logging.Config `toml:"logging" yaml:"logging"`
	Journal JournalConfig  `toml:"journal" yaml:"journal"`
	Bridge  BridgeConfig   `toml:"bridge" yaml:"bridge"`
	Scripts ScriptsConfig  `toml:"scripts" yaml:"scripts"`
}

// BusConfig holds the event bus capacities.
type BusConfig struct {
	MaxQueueSize   int `toml:"max_queue_size" yaml:"max_queue_size"`
	MaxHistorySize int `toml:"max_history_size" yaml:"max_history_size"`
}

// LoopConfig configures the tick driver.
type LoopConfig struct {
	// TickRate is ticks per second.
	TickRate int `toml:"tick_rate" yaml:"tick_rate"`
}

// JournalConfig configures the SQLite event journal.
type JournalConfig struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	Path       string   `toml:"path" yaml:"path"`
	Types      []string `toml:"types" yaml:"types"`
	BufferSize int      `toml:"buffer_size" yaml:"buffer_size"`
}

// BridgeConfig configures the Redis pub/sub bridge.
type BridgeConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	Addr          string   `toml:"addr" yaml:"addr"`
	Password      string   `toml:"password" yaml:"password"`
	DB            int      `toml:"db" yaml:"db"`
	ChannelPrefix string   `toml:"channel_prefix" yaml:"channel_prefix"`
	Forward       []string `toml:"forward" yaml:"forward"`
	Ingest        []string `toml:"ingest" yaml:"ingest"`
	BufferSize    int      `toml:"buffer_size" yaml:"buffer_size"`
}

// ScriptsConfig configures Lua collaborators.
type ScriptsConfig struct {
	Paths       []string      `toml:"paths" yaml:"paths"`
	CallTimeout time.Duration `toml:"call_timeout" yaml:"call_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bus: BusConfig{
			MaxQueueSize:   1000,
			MaxHistorySize: 100,
		},
		Loop: LoopConfig{
			TickRate: 60,
		},
		Logging: logging.DefaultConfig(),
		Journal: JournalConfig{
			Path:       "tickbus.db",
			BufferSize: 256,
		},
		Bridge: BridgeConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "tickbus:",
			BufferSize:    256,
		},
		Scripts: ScriptsConfig{
			CallTimeout: 250 * time.Millisecond,
		},
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(path string, v int) {
		if v <= 0 {
			errs = append(errs, &ValidationError{Path: path, Message: "must be positive", Value: v})
		}
	}

	positive("bus.max_queue_size", c.Bus.MaxQueueSize)
	positive("bus.max_history_size", c.Bus.MaxHistorySize)
	positive("loop.tick_rate", c.Loop.TickRate)

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, &ValidationError{Path: "logging", Message: err.Error(), Value: c.Logging})
	}

	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			errs = append(errs, &ValidationError{Path: "journal.path", Message: "required when journal is enabled"})
		}
		positive("journal.buffer_size", c.Journal.BufferSize)
	}

	if c.Bridge.Enabled {
		if c.Bridge.Addr == "" {
			errs = append(errs, &ValidationError{Path: "bridge.addr", Message: "required when bridge is enabled"})
		}
		if c.Bridge.DB < 0 {
			errs = append(errs, &ValidationError{Path: "bridge.db", Message: "must not be negative", Value: c.Bridge.DB})
		}
		positive("bridge.buffer_size", c.Bridge.BufferSize)
	}

	if c.Scripts.CallTimeout < 0 {
		errs = append(errs, &ValidationError{Path: "scripts.call_timeout", Message: "must not be negative", Value: c.Scripts.CallTimeout})
	}

	return errors.Join(errs...)
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	fs        loader.FileSystem
	envPrefix string
	envFiles  []string
	skipEnv   bool
	logger    zerolog.Logger
}

// WithEnvFiles reads dotenv files before the process environment.
func WithEnvFiles(paths ...string) LoadOption {
	return func(o *loadOptions) {
		o.envFiles = append(o.envFiles, paths...)
	}
}

// WithEnvPrefix replaces DefaultEnvPrefix.
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithoutEnv disables environment overrides.
func WithoutEnv() LoadOption {
	return func(o *loadOptions) {
		o.skipEnv = true
	}
}

// WithFS reads config files through fsys.
func WithFS(fsys loader.FileSystem) LoadOption {
	return func(o *loadOptions) {
		o.fs = fsys
	}
}

// WithLogger sets the logger used by Watch.
func WithLogger(logger zerolog.Logger) LoadOption {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

func newLoadOptions(opts []LoadOption) loadOptions {
	o := loadOptions{
		fs:        loader.DefaultFS(),
		envPrefix: DefaultEnvPrefix,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load builds a Config from defaults, the file at path (if any) and the
// environment, in increasing priority. An empty path or a missing file
// leaves the defaults in place.
func Load(path string, opts ...LoadOption) (Config, error) {
	o := newLoadOptions(opts)

	var sources []loader.Loader
	if path != "" {
		fl, err := loader.NewFileLoaderWithFS(o.fs, path)
		if err != nil {
			return Config{}, err
		}
		sources = append(sources, fl)
	}
	if !o.skipEnv {
		sources = append(sources, loader.NewEnvLoader(o.envPrefix).WithFiles(o.envFiles...))
	}

	merged := make(map[string]any)
	for _, src := range sources {
		m, err := src.Load()
		if err != nil {
			return Config{}, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	cfg, err := Decode(merged)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode applies a generic settings map on top of Default. Unknown keys
// are rejected.
func Decode(m map[string]any) (Config, error) {
	cfg := Default()
	if len(m) == 0 {
		return cfg, nil
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return Config{}, fmt.Errorf("encoding settings: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return cfg, nil
}

// Watch reloads path whenever it changes and passes the new Config to fn.
// A reload that fails to load or validate is logged and skipped.
// The caller must Close the returned watcher.
func Watch(path string, fn func(Config), opts ...LoadOption) (*watcher.Watcher, error) {
	o := newLoadOptions(opts)

	w, err := watcher.New(watcher.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Close()
		return nil, err
	}

	w.OnChange(func(ev watcher.Event) {
		if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
			return
		}
		cfg, err := Load(path, opts...)
		if err != nil {
			o.logger.Warn().Err(err).Str("path", ev.Path).Msg("config reload rejected")
			return
		}
		o.logger.Info().Str("path", ev.Path).Str("op", ev.Op.String()).Msg("config reloaded")
		fn(cfg)
	})

	if err := w.Start(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}
