package journal

// migrations is the ordered list of SQL migration statements.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		event_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		payload TEXT,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session, id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
}
