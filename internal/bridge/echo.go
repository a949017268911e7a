package bridge

import "github.com/dshills/tickbus/internal/event"

// DefaultEchoWindow is the number of recent ingested ids remembered for
// echo suppression.
const DefaultEchoWindow = 4096

// echoSet remembers the ids of the last limit ingested events. An
// ingested event the bus drops or discards never reaches the forward
// listener, so its id ages out of the window instead of being taken.
// Callers hold Bridge.mu.
type echoSet struct {
	limit int
	ids   map[event.EventID]struct{}
	order []event.EventID
	next  int
}

func newEchoSet(limit int) *echoSet {
	return &echoSet{
		limit: limit,
		ids:   make(map[event.EventID]struct{}, limit),
		order: make([]event.EventID, 0, limit),
	}
}

func (s *echoSet) add(id event.EventID) {
	if len(s.order) < s.limit {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.next])
		s.order[s.next] = id
		s.next = (s.next + 1) % s.limit
	}
	s.ids[id] = struct{}{}
}

// take reports whether id was ingested and forgets it.
func (s *echoSet) take(id event.EventID) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

func (s *echoSet) len() int {
	return len(s.ids)
}
