package dispatch

import "errors"

// Errors returned by AsyncDispatcher.
var (
	// ErrAlreadyRunning is returned by Start on a started dispatcher.
	ErrAlreadyRunning = errors.New("dispatch: already running")

	// ErrNotRunning is returned by Enqueue and Stop before Start or after Stop.
	ErrNotRunning = errors.New("dispatch: not running")

	// ErrQueueFull is returned by Enqueue when the task queue is at capacity.
	// The task is counted as dropped.
	ErrQueueFull = errors.New("dispatch: queue full")
)
