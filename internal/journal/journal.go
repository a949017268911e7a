// Package journal persists dispatched events to SQLite and replays them.
//
// A Journal is attached to a bus through Hook. The hook encodes the
// payload on the draining goroutine and hands the insert to a single
// background writer, so slow disks never stall a tick. When the writer
// falls behind, entries are dropped and counted.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/dshills/tickbus/internal/event"
	"github.com/dshills/tickbus/internal/event/dispatch"
	"github.com/dshills/tickbus/internal/event/topic"
)

// DefaultBufferSize is the writer queue capacity.
const DefaultBufferSize = 256

// Entry is one journaled event.
type Entry struct {
	Seq     int64         `json:"seq"`
	Session string        `json:"session"`
	EventID event.EventID `json:"event_id"`
	Type    topic.Topic   `json:"type"`
	// Payload is the JSON encoding of the event payload, nil when the
	// payload was nil or not encodable.
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Session summarizes one journal session.
type Session struct {
	ID     string    `json:"id"`
	Events int       `json:"events"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
}

// Query selects entries. Zero fields match everything.
type Query struct {
	Session string
	// Type is an exact type or a wildcard pattern.
	Type topic.Topic
	// Limit keeps the newest Limit matches.
	Limit int
}

// Stats reports writer activity.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`

	// Pending is the number of writes waiting in the queue.
	Pending int `json:"pending"`

	// AvgWriteMs is the mean time the writer spends per queued task.
	AvgWriteMs float64 `json:"avg_write_ms"`
}

// Option configures a Journal.
type Option func(*Journal)

// WithSession sets the session id instead of a generated one.
func WithSession(id string) Option {
	return func(j *Journal) {
		if id != "" {
			j.session = id
		}
	}
}

// WithTypes limits journaling to events matching any of the patterns.
func WithTypes(patterns ...string) Option {
	return func(j *Journal) {
		for _, p := range patterns {
			if p != "" {
				j.types = append(j.types, topic.Topic(p))
			}
		}
	}
}

// WithBufferSize sets the writer queue capacity.
func WithBufferSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.bufferSize = n
		}
	}
}

// WithLogger sets the journal logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// Journal records events into a SQLite database.
type Journal struct {
	db         *sql.DB
	session    string
	types      []topic.Topic
	bufferSize int
	logger     zerolog.Logger
	writer     *dispatch.AsyncDispatcher

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	closed  atomic.Bool
}

// Open opens (or creates) the journal database at path and starts a new
// session.
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		session:    uuid.NewString(),
		bufferSize: DefaultBufferSize,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and readers on the same file.
	db.SetMaxOpenConns(1)
	j.db = db

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}

	j.logger = j.logger.With().Str("component", "journal").Str("session", j.session).Logger()
	j.writer = dispatch.NewAsyncDispatcher(
		dispatch.WithQueueSize(j.bufferSize),
		dispatch.WithWorkerCount(1),
		dispatch.WithAsyncErrorHandler(func(ev any, err error) {
			j.failed.Add(1)
			j.logger.Warn().Err(err).Msg("journal write failed")
		}),
		dispatch.WithAsyncPanicHandler(func(ev any, v any, _ []byte) {
			j.failed.Add(1)
			j.logger.Error().Interface("panic", v).Msg("journal writer panicked")
		}),
	)
	if err := j.writer.Start(); err != nil {
		db.Close()
		return nil, err
	}

	return j, nil
}

func (j *Journal) migrate() error {
	for _, stmt := range migrations {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the id of the session being recorded.
func (j *Journal) Session() string {
	return j.session
}

// Accepts reports whether events of type t are journaled.
func (j *Journal) Accepts(t topic.Topic) bool {
	if len(j.types) == 0 {
		return true
	}
	for _, p := range j.types {
		if t.Matches(p) {
			return true
		}
	}
	return false
}

// Hook returns a dispatch hook that journals events asynchronously.
func (j *Journal) Hook() event.DispatchHook {
	return func(ev event.Event) {
		if !j.Accepts(ev.Type) {
			return
		}
		payload := j.encode(ev)
		err := j.writer.Enqueue(context.Background(), ev, func() (any, error) {
			return nil, j.insert(context.Background(), ev, payload)
		})
		if err != nil {
			j.dropped.Add(1)
			if errors.Is(err, dispatch.ErrQueueFull) {
				j.logger.Warn().Str("type", string(ev.Type)).Msg("journal queue full, entry dropped")
			}
		}
	}
}

// Record writes ev synchronously, bypassing the writer queue and the
// type filter.
func (j *Journal) Record(ctx context.Context, ev event.Event) error {
	if j.closed.Load() {
		return ErrClosed
	}
	return j.insert(ctx, ev, j.encode(ev))
}

// encode marshals the payload. Payloads JSON cannot represent are stored
// as NULL.
func (j *Journal) encode(ev event.Event) *string {
	if ev.Payload == nil {
		return nil
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		j.logger.Debug().Err(err).Str("type", string(ev.Type)).Msg("payload not encodable")
		return nil
	}
	s := string(data)
	return &s
}

func (j *Journal) insert(ctx context.Context, ev event.Event, payload *string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (session, event_id, type, payload, ts) VALUES (?, ?, ?, ?, ?)`,
		j.session, int64(ev.ID), string(ev.Type), payload, ev.Timestamp.UnixNano(),
	)
	if err == nil {
		j.written.Add(1)
	}
	return err
}

// Entries returns matching entries oldest first.
func (j *Journal) Entries(ctx context.Context, q Query) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	where := "1=1"
	var args []any
	if q.Session != "" {
		where += " AND session = ?"
		args = append(args, q.Session)
	}
	// Patterns are matched in Go; exact types go to SQL.
	if q.Type != "" && !q.Type.IsWildcard() {
		where += " AND type = ?"
		args = append(args, string(q.Type))
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session, event_id, type, payload, ts FROM events WHERE `+where+` ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			eventID int64
			typ     string
			payload sql.NullString
			ts      int64
		)
		if err := rows.Scan(&e.Seq, &e.Session, &eventID, &typ, &payload, &ts); err != nil {
			return nil, err
		}
		e.EventID = event.EventID(eventID)
		e.Type = topic.Topic(typ)
		if q.Type.IsWildcard() && !e.Type.Matches(q.Type) {
			continue
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.Timestamp = time.Unix(0, ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[len(entries)-q.Limit:]
	}
	return entries, nil
}

// Sessions lists recorded sessions, oldest first.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT session, COUNT(*), MIN(ts), MAX(ts) FROM events GROUP BY session ORDER BY MIN(id) ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			s           Session
			first, last int64
		)
		if err := rows.Scan(&s.ID, &s.Events, &first, &last); err != nil {
			return nil, err
		}
		s.First = time.Unix(0, first)
		s.Last = time.Unix(0, last)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Replay re-publishes matching entries into bus, in recorded order, with
// immediate delivery. Payloads come back as decoded JSON values. It
// returns the number of events published.
func (j *Journal) Replay(ctx context.Context, bus *event.Bus, q Query) (int, error) {
	if bus == nil {
		return 0, ErrNoBus
	}

	entries, err := j.Entries(ctx, q)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}

		var payload any
		if e.Payload != nil {
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				return replayed, fmt.Errorf("decoding entry %d: %w", e.Seq, err)
			}
		}

		if _, _, err := bus.PublishImmediate(e.Type, payload); err != nil {
			return replayed, err
		}
		replayed++
	}

	j.logger.Debug().Int("events", replayed).Str("from", q.Session).Msg("journal replayed")
	return replayed, nil
}

// Flush blocks until every write queued before the call has finished.
func (j *Journal) Flush(ctx context.Context) error {
	if j.closed.Load() {
		return ErrClosed
	}

	// The single writer runs tasks in order, so a barrier task marks the point.
	done := make(chan struct{})
	barrier := func() (any, error) {
		close(done)
		return nil, nil
	}
	for {
		err := j.writer.Enqueue(ctx, nil, barrier)
		if err == nil {
			break
		}
		if !errors.Is(err, dispatch.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns writer counters.
func (j *Journal) Stats() Stats {
	ws := j.writer.Stats()
	return Stats{
		Written:    j.written.Load(),
		Dropped:    j.dropped.Load(),
		Failed:     j.failed.Load(),
		Pending:    ws.QueueDepth,
		AvgWriteMs: float64(ws.AvgDuration) / float64(time.Millisecond),
	}
}

// Close flushes queued writes and closes the database.
func (j *Journal) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := j.writer.Stop(ctx); err != nil && !errors.Is(err, dispatch.ErrNotRunning) {
		errs = append(errs, err)
	}
	if err := j.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
