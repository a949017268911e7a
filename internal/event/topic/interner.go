package topic

import "sync"

// ID is the interned form of a Topic. IDs are dense, start at 1 and are
// never reused for the lifetime of an Interner. The zero ID is invalid.
type ID uint32

// Interner maps topics to small integer IDs so hot paths can key maps and
// slices by integer instead of hashing strings on every lookup.
// It is safe for concurrent use.
type Interner struct {
	mu    sync.RWMutex
	ids   map[Topic]ID
	names []Topic // names[id-1]
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{
		ids: make(map[Topic]ID),
	}
}

// Intern returns the ID for t, assigning the next ID if t is new.
// The empty topic is never interned and yields 0.
func (in *Interner) Intern(t Topic) ID {
	if t.IsEmpty() {
		return 0
	}

	in.mu.RLock()
	id, ok := in.ids[t]
	in.mu.RUnlock()
	if ok {
		return id
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	// Another goroutine may have won the race between the two locks.
	if id, ok := in.ids[t]; ok {
		return id
	}
	in.names = append(in.names, t)
	id = ID(len(in.names))
	in.ids[t] = id
	return id
}

// Lookup returns the ID for t without assigning one.
func (in *Interner) Lookup(t Topic) (ID, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()

	id, ok := in.ids[t]
	return id, ok
}

// Name returns the topic for id, or "" if id was never assigned.
func (in *Interner) Name(id ID) Topic {
	in.mu.RLock()
	defer in.mu.RUnlock()

	if id == 0 || int(id) > len(in.names) {
		return ""
	}
	return in.names[id-1]
}

// Len returns the number of interned topics.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()

	return len(in.names)
}
