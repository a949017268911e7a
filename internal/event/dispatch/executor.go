package dispatch

import (
	"runtime/debug"
	"time"
)

// Executor runs a single listener invocation with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.panicHandler = h
	}
}

// Execute invokes fn and returns the result.
// It recovers from panics and captures timing information.
func (e *Executor) Execute(event any, fn Func) (result Result) {
	if fn == nil {
		return Result{Skipped: true}
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Success = false
			result.Value = nil
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			// The panic handler must not be able to crash the caller either.
			if e.panicHandler != nil {
				func() {
					defer func() { _ = recover() }()
					e.panicHandler(event, r, stack)
				}()
			}
		}
	}()

	value, err := fn()
	if err != nil {
		result.Success = false
		result.Error = err
		return result
	}

	result.Success = true
	result.Value = value
	return result
}
