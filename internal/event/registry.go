package event

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/dshills/tickbus/internal/event/topic"
)

// ListenerID is a handle to a registered listener. The low 32 bits index
// the registry's slot arena and the high 32 bits hold the slot generation,
// so a stale ID never aliases a listener registered later in the same slot.
// The zero ID is never issued.
type ListenerID uint64

func newListenerID(index, gen uint32) ListenerID {
	return ListenerID(uint64(gen)<<32 | uint64(index))
}

func (id ListenerID) index() uint32 { return uint32(id) }

func (id ListenerID) generation() uint32 { return uint32(id >> 32) }

// IsValid reports whether the ID could have been issued by a registry.
func (id ListenerID) IsValid() bool {
	return id.generation() != 0
}

// String returns "index:generation".
func (id ListenerID) String() string {
	return fmt.Sprintf("%d:%d", id.index(), id.generation())
}

// ListenerInfo is a read-only description of a registered listener.
type ListenerInfo struct {
	ID       ListenerID
	Type     topic.Topic
	Priority int
	Once     bool
	Listener Listener
}

type entry struct {
	id       ListenerID
	typ      topic.ID
	name     topic.Topic
	listener Listener
	priority int
	once     bool
	filter   Filter

	// onRemove runs after the entry leaves the registry, without r.mu held.
	onRemove func()
}

func (e *entry) removed() {
	if e.onRemove != nil {
		e.onRemove()
	}
}

func (e *entry) info() ListenerInfo {
	return ListenerInfo{
		ID:       e.id,
		Type:     e.name,
		Priority: e.priority,
		Once:     e.once,
		Listener: e.listener,
	}
}

type slot struct {
	gen   uint32
	entry *entry
}

// Registry owns, per event type, the ordered set of listeners.
// Each per-type slice is sorted by priority descending with ties in
// registration order. Slices are copy-on-write: a slice handed out by
// snapshot is never mutated afterwards, so dispatch can iterate it while
// listeners subscribe and unsubscribe concurrently.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	topics *topic.Interner
	byType map[topic.ID][]*entry
	slots  []slot
	free   []uint32
	count  int
}

// NewRegistry creates a new listener registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: topic.NewInterner(),
		byType: make(map[topic.ID][]*entry),
	}
}

// Add registers l for events of type t.
func (r *Registry) Add(t topic.Topic, l Listener, cfg SubscriptionConfig) (ListenerID, error) {
	if t.IsEmpty() {
		return 0, ErrInvalidTopic
	}
	if isNilListener(l) {
		return 0, ErrNilListener
	}

	tid := r.topics.Intern(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{
		id:       r.allocate(),
		typ:      tid,
		name:     t,
		listener: l,
		priority: cfg.Priority,
		once:     cfg.Once,
		filter:   cfg.Filter,
		onRemove: cfg.onRemove,
	}
	r.slots[e.id.index()].entry = e

	old := r.byType[tid]
	// First position whose priority is strictly lower keeps equal
	// priorities in registration order.
	pos := sort.Search(len(old), func(i int) bool {
		return old[i].priority < e.priority
	})

	list := make([]*entry, 0, len(old)+1)
	list = append(list, old[:pos]...)
	list = append(list, e)
	list = append(list, old[pos:]...)
	r.byType[tid] = list
	r.count++

	return e.id, nil
}

func (r *Registry) allocate() ListenerID {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		return newListenerID(idx, r.slots[idx].gen)
	}
	r.slots = append(r.slots, slot{gen: 1})
	return newListenerID(uint32(len(r.slots)-1), 1)
}

// lookup returns the live entry for id. Caller holds r.mu.
func (r *Registry) lookup(id ListenerID) *entry {
	idx := id.index()
	if int(idx) >= len(r.slots) {
		return nil
	}
	s := r.slots[idx]
	if s.gen != id.generation() || s.entry == nil {
		return nil
	}
	return s.entry
}

// detach removes e from its type list and releases its slot. Caller holds r.mu.
func (r *Registry) detach(e *entry) {
	old := r.byType[e.typ]
	if len(old) <= 1 {
		delete(r.byType, e.typ)
	} else {
		list := make([]*entry, 0, len(old)-1)
		for _, x := range old {
			if x != e {
				list = append(list, x)
			}
		}
		r.byType[e.typ] = list
	}

	idx := e.id.index()
	r.slots[idx].entry = nil
	r.slots[idx].gen++
	if r.slots[idx].gen == 0 {
		r.slots[idx].gen = 1
	}
	r.free = append(r.free, idx)
	r.count--
}

// Remove unregisters the listener with the given ID from type t.
// Returns false if no such listener is registered for t.
func (r *Registry) Remove(t topic.Topic, id ListenerID) bool {
	tid, ok := r.topics.Lookup(t)
	if !ok {
		return false
	}

	r.mu.Lock()
	e := r.lookup(id)
	if e == nil || e.typ != tid {
		r.mu.Unlock()
		return false
	}
	r.detach(e)
	r.mu.Unlock()

	e.removed()
	return true
}

// RemoveListener unregisters the first listener on type t that is the same
// value as l. Wrapping listeners are compared through Unwrap.
//
// Function listeners compare by code pointer: two closures created from
// the same function literal are indistinguishable here. Prefer Remove
// with the ListenerID when closures are involved.
func (r *Registry) RemoveListener(t topic.Topic, l Listener) bool {
	if isNilListener(l) {
		return false
	}
	tid, ok := r.topics.Lookup(t)
	if !ok {
		return false
	}

	r.mu.Lock()
	var found *entry
	for _, e := range r.byType[tid] {
		if sameListener(e.listener, l) {
			found = e
			r.detach(e)
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return false
	}
	found.removed()
	return true
}

// Get returns information about a registered listener.
func (r *Registry) Get(id ListenerID) (ListenerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.lookup(id)
	if e == nil {
		return ListenerInfo{}, false
	}
	return e.info(), true
}

// Contains reports whether id refers to a registered listener.
func (r *Registry) Contains(id ListenerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lookup(id) != nil
}

// snapshot returns the current immutable listener slice for t.
func (r *Registry) snapshot(t topic.Topic) []*entry {
	tid, ok := r.topics.Lookup(t)
	if !ok {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byType[tid]
}

// Listeners returns a copy of the ordered listeners for t.
func (r *Registry) Listeners(t topic.Topic) []ListenerInfo {
	entries := r.snapshot(t)
	if len(entries) == 0 {
		return nil
	}

	result := make([]ListenerInfo, len(entries))
	for i, e := range entries {
		result[i] = e.info()
	}
	return result
}

// RemoveType removes every listener for t and returns how many were removed.
func (r *Registry) RemoveType(t topic.Topic) int {
	tid, ok := r.topics.Lookup(t)
	if !ok {
		return 0
	}

	r.mu.Lock()
	entries := r.byType[tid]
	for _, e := range entries {
		r.detach(e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.removed()
	}
	return len(entries)
}

// Clear removes all listeners and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	var removed []*entry
	for _, entries := range r.byType {
		for _, e := range entries {
			r.detach(e)
			removed = append(removed, e)
		}
	}
	r.mu.Unlock()

	for _, e := range removed {
		e.removed()
	}
	return len(removed)
}

// Count returns the total number of listeners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.count
}

// CountByType returns the number of listeners for t.
func (r *Registry) CountByType(t topic.Topic) int {
	return len(r.snapshot(t))
}

// Types returns all event types with at least one listener.
func (r *Registry) Types() []topic.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.byType) == 0 {
		return nil
	}

	types := make([]topic.Topic, 0, len(r.byType))
	for tid := range r.byType {
		types = append(types, r.topics.Name(tid))
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func isNilListener(l Listener) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// sameListener reports whether registered (or what it wraps) is target.
func sameListener(registered, target Listener) bool {
	for l := registered; l != nil; {
		if identical(l, target) {
			return true
		}
		u, ok := l.(Unwrapper)
		if !ok {
			break
		}
		l = u.Unwrap()
	}
	return false
}

func identical(a, b Listener) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	return va.Comparable() && va.Equal(vb)
}
