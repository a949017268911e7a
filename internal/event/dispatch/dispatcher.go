package dispatch

import "time"

// Func is a single listener invocation bound to its event.
// A nil value means the listener produced no result.
type Func func() (any, error)

// Result represents the outcome of a listener invocation.
type Result struct {
	// Success is true if the listener completed without error or panic.
	Success bool

	// Value is the listener's return value, if any.
	Value any

	// Error is the error returned by the listener, if any.
	Error error

	// Panicked is true if the listener panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the listener took to execute.
	Duration time.Duration

	// Skipped is true if there was nothing to execute.
	Skipped bool
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsError returns true if the result indicates an error (not panic).
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler is called when a listener panics during execution.
// It receives the event being processed, the panic value, and the stack trace.
type PanicHandler func(event any, panicValue any, stack []byte)

func defaultPanicHandler(event any, panicValue any, stack []byte) {}
