package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dshills/tickbus/internal/app"
	"github.com/dshills/tickbus/internal/event"
	"github.com/dshills/tickbus/internal/event/topic"
	"github.com/dshills/tickbus/internal/journal"
)

var errNoJournal = errors.New("--journal is required")

// replayedEvent is one line of replay output.
type replayedEvent struct {
	ID      event.EventID `json:"id"`
	Type    topic.Topic   `json:"type"`
	Payload any           `json:"payload,omitempty"`
}

func newReplayCommand(flags *globalFlags) *cobra.Command {
	var (
		path    string
		session string
		typ     string
		limit   int
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a journal session through a fresh bus",
		Long: `Replay publishes the journaled events of a session, in order, into a
new bus with the configured scripts loaded. Each replayed event is
printed as a JSON line unless --quiet is set. The journal being read is
never written to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				return errNoJournal
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			cfg.Journal.Enabled = false
			cfg.Bridge.Enabled = false

			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			out := json.NewEncoder(cmd.OutOrStdout())
			var opts []app.Option
			if !quiet {
				opts = append(opts, app.WithBusOptions(event.WithDispatchHook(func(ev event.Event) {
					_ = out.Encode(replayedEvent{ID: ev.ID, Type: ev.Type, Payload: ev.Payload})
				})))
			}

			a, err := app.New(cfg, opts...)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			n, err := j.Replay(cmd.Context(), a.Bus(), journal.Query{
				Session: session,
				Type:    topic.Topic(typ),
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			// Deliver whatever the scripts queued in response.
			a.Bus().ProcessEvents()
			logger := a.Logger()
			logger.Info().Int("events", n).Str("session", session).Msg("replay complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "journal", "j", "", "journal database path")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session id (default: all sessions)")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "event type or wildcard pattern")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "replay only the newest n events")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print replayed events")
	return cmd
}

func newSessionsCommand() *cobra.Command {
	var (
		path   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journal sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				return errNoJournal
			}
			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			sessions, err := j.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			return renderSessions(cmd.OutOrStdout(), sessions)
		},
	}

	cmd.Flags().StringVarP(&path, "journal", "j", "", "journal database path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func renderSessions(w io.Writer, sessions []journal.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found")
		return err
	}

	table := tablewriter.NewTable(w)
	table.Header("Session", "Events", "First", "Last")
	for _, s := range sessions {
		if err := table.Append(
			s.ID,
			strconv.Itoa(s.Events),
			s.First.Format(time.RFC3339),
			s.Last.Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
