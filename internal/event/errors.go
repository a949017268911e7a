package event

import (
	"errors"
	"fmt"

	"github.com/dshills/tickbus/internal/event/topic"
)

// Sentinel errors for the event bus.
var (
	// ErrInvalidArgument is the class of synchronous argument errors from
	// Subscribe and Publish. Use errors.Is to test for it.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTopic is returned when an event type is empty.
	ErrInvalidTopic = fmt.Errorf("%w: event type must not be empty", ErrInvalidArgument)

	// ErrNilListener is returned when a nil listener is provided.
	ErrNilListener = fmt.Errorf("%w: listener cannot be nil", ErrInvalidArgument)

	// ErrBusClosed is returned when operations are attempted on a shut down bus.
	ErrBusClosed = errors.New("event bus is shut down")

	// ErrSubscriberClosed is returned when subscribing through a closed Subscriber.
	ErrSubscriberClosed = errors.New("subscriber is closed")

	// ErrTimeout is the failure of a wait that expired before its event arrived.
	ErrTimeout = errors.New("timed out waiting for event")

	// ErrCanceled is the failure of a wait cancelled through Future.Cancel.
	ErrCanceled = errors.New("wait canceled")

	// ErrPending is returned by Future.Result before the future has settled.
	ErrPending = errors.New("future has not settled")

	// ErrListenerFault matches any *ListenerFault via errors.Is.
	ErrListenerFault = errors.New("listener fault")
)

// ListenerFault describes a listener that returned an error or panicked
// while an event was being dispatched. Faults are isolated: they are
// reported and counted, and dispatch continues with the next listener.
type ListenerFault struct {
	// ListenerID identifies the failing listener.
	ListenerID ListenerID

	// Type is the event type being dispatched.
	Type topic.Topic

	// EventID identifies the event being dispatched.
	EventID EventID

	// Err is the error returned by the listener. Nil when the listener panicked.
	Err error

	// Panicked is true if the listener panicked.
	Panicked bool

	// PanicValue is the value passed to panic().
	PanicValue any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (f *ListenerFault) Error() string {
	if f.Panicked {
		return fmt.Sprintf("listener %s panicked on %q: %v", f.ListenerID, f.Type, f.PanicValue)
	}
	return fmt.Sprintf("listener %s failed on %q: %v", f.ListenerID, f.Type, f.Err)
}

// Unwrap returns the underlying error.
func (f *ListenerFault) Unwrap() error {
	return f.Err
}

// Is allows errors.Is to match ListenerFault with ErrListenerFault.
func (f *ListenerFault) Is(target error) bool {
	return target == ErrListenerFault
}
