package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/tickbus/internal/app"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		duration time.Duration
		session  string
		noWatch  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tick loop until interrupted",
		Long: `Run starts the bus, loads the configured scripts, journal and bridge,
and ticks until interrupted or until --duration elapses. Final statistics
are printed as JSON.

With --config the file is watched, and bus limits and the log level are
applied live when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			var opts []app.Option
			if session != "" {
				opts = append(opts, app.WithSession(session))
			}
			if flags.configPath != "" && !noWatch {
				opts = append(opts, app.WithConfigPath(flags.configPath, flags.loadOptions()...))
			}

			a, err := app.New(cfg, opts...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			runErr := a.Run(ctx)
			a.Shutdown()
			if runErr != nil {
				return runErr
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.Stats())
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&session, "session", "", "journal session id (default: generated)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}
