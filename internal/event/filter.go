package event

import (
	"strings"
	"time"

	"github.com/dshills/tickbus/internal/event/topic"
)

// Filter is a predicate over events. It gates listener delivery when
// attached with WithFilter, and narrows history queries.
type Filter func(ev Event) bool

// FilterByType creates a filter for events whose type matches pattern.
// Patterns may use the "*" and "**" segment wildcards.
func FilterByType(pattern topic.Topic) Filter {
	return func(ev Event) bool {
		return ev.Type.Matches(pattern)
	}
}

// FilterByTypePrefix creates a filter for events with types starting with prefix.
func FilterByTypePrefix(prefix string) Filter {
	return func(ev Event) bool {
		return strings.HasPrefix(string(ev.Type), prefix)
	}
}

// FilterExcludeType creates a filter that excludes events matching pattern.
func FilterExcludeType(pattern topic.Topic) Filter {
	return func(ev Event) bool {
		return !ev.Type.Matches(pattern)
	}
}

// FilterPayload creates a filter based on the payload.
// Events whose payload is not a T are rejected.
func FilterPayload[T any](predicate func(payload T) bool) Filter {
	return func(ev Event) bool {
		p, ok := ev.Payload.(T)
		return ok && predicate(p)
	}
}

// FilterSince creates a filter for events published at or after t.
func FilterSince(t time.Time) Filter {
	return func(ev Event) bool {
		return !ev.Timestamp.Before(t)
	}
}

// FilterAfterID creates a filter for events newer than id.
func FilterAfterID(id EventID) Filter {
	return func(ev Event) bool {
		return ev.ID > id
	}
}

// FilterAnd combines multiple filters with AND logic.
// All filters must pass for the event to be delivered.
func FilterAnd(filters ...Filter) Filter {
	return func(ev Event) bool {
		for _, f := range filters {
			if !f(ev) {
				return false
			}
		}
		return true
	}
}

// FilterOr combines multiple filters with OR logic.
// At least one filter must pass for the event to be delivered.
func FilterOr(filters ...Filter) Filter {
	return func(ev Event) bool {
		for _, f := range filters {
			if f(ev) {
				return true
			}
		}
		return false
	}
}

// FilterNot negates a filter.
func FilterNot(filter Filter) Filter {
	return func(ev Event) bool {
		return !filter(ev)
	}
}
