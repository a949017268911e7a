package journal

import "errors"

var (
	// ErrClosed is returned when recording to or querying a closed journal.
	ErrClosed = errors.New("journal closed")

	// ErrNoBus is returned by Replay without a target bus.
	ErrNoBus = errors.New("journal: replay needs a bus")
)
