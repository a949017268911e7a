package script

import "errors"

// Errors returned by script hosts.
var (
	// ErrHostClosed is returned when using a closed host.
	ErrHostClosed = errors.New("script host is closed")

	// ErrNoBus is returned by NewHost without a bus.
	ErrNoBus = errors.New("script host requires a bus")

	// ErrCallTimeout is wrapped by errors from Lua calls that ran past the
	// host's call timeout.
	ErrCallTimeout = errors.New("lua call timed out")
)
