package event

import (
	"testing"

	"github.com/dshills/tickbus/internal/event/topic"
)

func TestRing_PushPop(t *testing.T) {
	r := newRing[int](3)

	for i := 1; i <= 3; i++ {
		if !r.push(i) {
			t.Fatalf("push(%d) should succeed", i)
		}
	}
	if r.push(4) {
		t.Error("push beyond limit should fail")
	}

	for want := 1; want <= 3; want++ {
		got, ok := r.pop()
		if !ok || got != want {
			t.Fatalf("pop() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := r.pop(); ok {
		t.Error("pop() on empty ring should fail")
	}
}

func TestRing_WrapAround(t *testing.T) {
	r := newRing[int](4)

	// Interleave so head moves around the buffer several times.
	next, expect := 0, 0
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			r.push(next)
			next++
		}
		for i := 0; i < 3; i++ {
			got, _ := r.pop()
			if got != expect {
				t.Fatalf("round %d: pop() = %d, want %d", round, got, expect)
			}
			expect++
		}
	}
}

func TestRing_GrowsLazily(t *testing.T) {
	r := newRing[int](10000)

	r.push(1)
	if len(r.buf) != minRingAlloc {
		t.Errorf("first allocation = %d, want %d", len(r.buf), minRingAlloc)
	}

	for i := 0; i < 100; i++ {
		r.push(i)
	}
	if len(r.buf) > 256 {
		t.Errorf("buffer grew to %d for 101 elements", len(r.buf))
	}

	items := r.items()
	if items[0] != 1 || items[1] != 0 || items[100] != 99 {
		t.Errorf("items out of order after growth: %v...", items[:3])
	}
}

func TestRing_PushEvict(t *testing.T) {
	r := newRing[int](3)

	for i := 1; i <= 3; i++ {
		if _, evicted := r.pushEvict(i); evicted {
			t.Fatalf("pushEvict(%d) evicted before full", i)
		}
	}

	old, evicted := r.pushEvict(4)
	if !evicted || old != 1 {
		t.Errorf("pushEvict(4) = %d, %v; want 1, true", old, evicted)
	}

	got := r.items()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items() = %v, want %v", got, want)
		}
	}
}

func TestRing_Resize(t *testing.T) {
	tests := []struct {
		name        string
		keepOldest  bool
		wantItems   []int
		wantRemoved []int
	}{
		{"drop newest", true, []int{1, 2}, []int{3, 4, 5}},
		{"drop oldest", false, []int{4, 5}, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRing[int](5)
			for i := 1; i <= 5; i++ {
				r.push(i)
			}

			removed := r.resize(2, tt.keepOldest)
			if len(removed) != len(tt.wantRemoved) {
				t.Fatalf("removed = %v, want %v", removed, tt.wantRemoved)
			}
			for i := range removed {
				if removed[i] != tt.wantRemoved[i] {
					t.Fatalf("removed = %v, want %v", removed, tt.wantRemoved)
				}
			}

			items := r.items()
			for i := range tt.wantItems {
				if items[i] != tt.wantItems[i] {
					t.Fatalf("items = %v, want %v", items, tt.wantItems)
				}
			}
			if r.push(9) {
				t.Error("ring should be full after shrinking")
			}

			r.resize(4, tt.keepOldest)
			if !r.push(9) {
				t.Error("push should succeed after growing the limit")
			}
		})
	}
}

func TestQueue_DropNewest(t *testing.T) {
	q := NewQueue(2)

	q.Enqueue(Event{ID: 1})
	q.Enqueue(Event{ID: 2})
	if q.Enqueue(Event{ID: 3}) {
		t.Error("Enqueue on a full queue should fail")
	}

	pending := q.Pending()
	if len(pending) != 2 || pending[0].ID != 1 || pending[1].ID != 2 {
		t.Errorf("Pending() = %+v, want events 1 and 2", pending)
	}

	dropped := q.SetCapacity(1)
	if len(dropped) != 1 || dropped[0].ID != 2 {
		t.Errorf("SetCapacity(1) dropped %+v, want event 2", dropped)
	}
	if n := q.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
}

func TestHistory_Query(t *testing.T) {
	h := NewHistory(4)

	for i, typ := range []string{"a.x", "b", "a.y", "b", "a.x"} {
		h.Record(Event{ID: EventID(i + 1), Type: topic.Topic(typ)})
	}

	if h.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", h.Len())
	}

	tests := []struct {
		name   string
		filter HistoryFilter
		want   []EventID
	}{
		{"all", HistoryFilter{}, []EventID{2, 3, 4, 5}},
		{"by type", HistoryFilter{Type: "b"}, []EventID{2, 4}},
		{"by pattern", HistoryFilter{Pattern: "a.*"}, []EventID{3, 5}},
		{"limit keeps newest", HistoryFilter{Limit: 2}, []EventID{4, 5}},
		{"type and limit", HistoryFilter{Type: "b", Limit: 1}, []EventID{4}},
		{"predicate", HistoryFilter{Filter: FilterAfterID(3)}, []EventID{4, 5}},
		{"no match", HistoryFilter{Type: "zzz"}, []EventID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Query(tt.filter)
			if got == nil {
				t.Fatal("Query() returned nil, want empty slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Query() = %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("Query()[%d].ID = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestHistory_QueryReturnsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Record(Event{ID: 1, Type: "a"})

	got := h.Query(HistoryFilter{})
	got[0].ID = 99

	if again := h.Query(HistoryFilter{}); again[0].ID != 1 {
		t.Error("mutating a query result changed the history")
	}
}

func TestHistory_SetCapacity(t *testing.T) {
	h := NewHistory(5)
	for i := 1; i <= 5; i++ {
		h.Record(Event{ID: EventID(i), Type: "a"})
	}

	if n := h.SetCapacity(2); n != 3 {
		t.Errorf("SetCapacity(2) evicted %d, want 3", n)
	}
	got := h.Query(HistoryFilter{})
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Errorf("after shrink = %+v, want events 4 and 5", got)
	}
}
