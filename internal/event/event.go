package event

import (
	"strconv"
	"time"

	"github.com/dshills/tickbus/internal/event/topic"
)

// EventID uniquely identifies an event within one bus. IDs come from a
// monotonic counter and start at 1.
type EventID uint64

// String returns the decimal form of the ID.
func (id EventID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Event is a published occurrence of a Type carrying an opaque Payload.
// Events are immutable once created; the bus passes them by value.
type Event struct {
	// ID is unique per bus and increases with publish order.
	ID EventID

	// Type names the event category.
	Type topic.Topic

	// Payload is never interpreted by the bus.
	Payload any

	// Timestamp is when the event was published. It carries Go's monotonic
	// clock reading when produced by the default clock.
	Timestamp time.Time
}
