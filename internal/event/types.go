package event

// Priority determines listener execution order within one event.
// Higher values execute first; equal priorities run in registration order.
type Priority = int

// Conventional priorities. Any int is valid.
const (
	// PriorityCritical is for listeners that must observe the event before
	// anything else (renderer, simulation state).
	PriorityCritical Priority = 100

	// PriorityHigh is for input mapping and core collaborators.
	PriorityHigh Priority = 50

	// PriorityNormal is the default priority.
	PriorityNormal Priority = 0

	// PriorityLow is for journaling, forwarding and metrics listeners.
	PriorityLow Priority = -100
)

// Listener reacts to events of the type it was subscribed to.
// Invoke receives the event payload and the full event; a non-nil return
// value is collected for callers of PublishImmediate and ProcessEvent.
// Returning an error or panicking is a listener fault: it is logged and
// isolated, and remaining listeners still run.
//
// Listeners run on the goroutine that drains the bus and must not block.
type Listener interface {
	Invoke(payload any, ev Event) (any, error)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(payload any, ev Event) (any, error)

// Invoke implements the Listener interface.
func (f ListenerFunc) Invoke(payload any, ev Event) (any, error) {
	return f(payload, ev)
}

// Func adapts a function with no result to a Listener.
func Func(fn func(payload any, ev Event)) Listener {
	return ListenerFunc(func(payload any, ev Event) (any, error) {
		fn(payload, ev)
		return nil, nil
	})
}

// Unwrapper is implemented by listeners that wrap another listener, so
// identity-based unsubscription can find the caller's original value.
type Unwrapper interface {
	Unwrap() Listener
}

// DropHandler is called when a queued publish is rejected because the
// queue is at capacity.
type DropHandler func(ev Event)

// FaultHandler is called for every isolated listener fault.
type FaultHandler func(fault *ListenerFault)

// DispatchHook observes every event after all of its listeners have run.
// Hooks run on the draining goroutine and must not block.
type DispatchHook func(ev Event)
