package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/tickbus/internal/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "tickbus",
		Short:   "Tick-driven in-process event bus",
		Version: version,
		Long: `tickbus runs a publish/subscribe event bus drained once per tick.

Lua scripts subscribe and publish through the bus, dispatched events can
be journaled to SQLite for replay, and selected event types can be
bridged to other processes over Redis pub/sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	pf.StringSliceVar(&flags.envFiles, "env-file", nil, "dotenv files read before the process environment")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, off")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: auto, console, json")

	root.SetVersionTemplate("tickbus {{.Version}}\n")

	root.AddCommand(
		newRunCommand(flags),
		newReplayCommand(flags),
		newSessionsCommand(),
		newVersionCommand(),
	)
	return root
}

// loadOptions returns the options used for the initial load and reloads.
func (f *globalFlags) loadOptions() []config.LoadOption {
	var opts []config.LoadOption
	if len(f.envFiles) > 0 {
		opts = append(opts, config.WithEnvFiles(f.envFiles...))
	}
	return opts
}

// load reads the configuration and applies flag overrides.
func (f *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath, f.loadOptions()...)
	if err != nil {
		return config.Config{}, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tickbus %s\n", version)
			if verbose {
				fmt.Fprintf(w, "  commit: %s\n", commit)
				fmt.Fprintf(w, "  built:  %s\n", date)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include build details")
	return cmd
}
