package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestHistory_Append(t *testing.T) {
	h := NewHistory(10, 8)
	h.now = fixedClock(time.Unix(1700000000, 0))

	first := h.Append("c1", "hello")
	h.Append("c1", "Assistant: hi")
	h.Append("c2", "other")

	if first.ConversationID != "c1" || first.Text != "hello" {
		t.Errorf("Append() = %+v", first)
	}
	if first.Timestamp != 1700000001 {
		t.Errorf("Timestamp = %v, want 1700000001", first.Timestamp)
	}
	if !first.Time().Equal(time.Unix(1700000001, 0)) {
		t.Errorf("Time() = %v", first.Time())
	}

	items := h.Items("c1")
	if len(items) != 2 || items[0].Text != "hello" || items[1].Text != "Assistant: hi" {
		t.Errorf("Items(c1) = %+v", items)
	}
	if h.Len("c2") != 1 || h.Len("missing") != 0 {
		t.Errorf("Len: c2 = %d, missing = %d", h.Len("c2"), h.Len("missing"))
	}
	if h.Conversations() != 2 || h.Size() != 3 {
		t.Errorf("Conversations = %d, Size = %d", h.Conversations(), h.Size())
	}
	if ids := h.IDs(); len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("IDs() = %v", ids)
	}
	if h.Items("missing") != nil {
		t.Error("Items(missing) should be nil")
	}

	items[0].Text = "mutated"
	if h.Items("c1")[0].Text != "hello" {
		t.Error("Items should return a copy")
	}
}

func TestHistory_Pruning(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		threshold int
		appends   int
		wantLen   int
	}{
		{"under cap", 100, 80, 50, 50},
		{"at cap", 100, 80, 100, 100},
		{"over cap", 100, 80, 150, 100},
		{"threshold above cap", 5, 50, 12, 5},
		{"small", 3, 2, 4, 3},
		{"defaults", 0, 0, 120, DefaultMaxItems},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(tt.max, tt.threshold)
			for i := range tt.appends {
				h.Append("c", fmt.Sprintf("m%d", i))
				if h.Len("c") > h.MaxItems() {
					t.Fatalf("after append %d len = %d > cap %d", i, h.Len("c"), h.MaxItems())
				}
			}
			items := h.Items("c")
			if len(items) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(items), tt.wantLen)
			}
			// Most recent items survive, in order.
			for i, it := range items {
				want := fmt.Sprintf("m%d", tt.appends-tt.wantLen+i)
				if it.Text != want {
					t.Fatalf("items[%d] = %q, want %q", i, it.Text, want)
				}
			}
		})
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(10, 10)
	h.Append("a", "x")
	h.Append("b", "y")
	h.Clear("a")
	if h.Len("a") != 0 || h.Conversations() != 1 {
		t.Errorf("after Clear: len(a) = %d, conversations = %d", h.Len("a"), h.Conversations())
	}
}

func TestHistory_ConcurrentAppends(t *testing.T) {
	h := NewHistory(1000, 1000)
	var wg sync.WaitGroup
	for c := range 4 {
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 20 {
					h.Append(fmt.Sprintf("conv-%d", c), fmt.Sprintf("msg-%d", i))
				}
			}()
		}
	}
	wg.Wait()

	if h.Conversations() != 4 {
		t.Fatalf("Conversations = %d, want 4", h.Conversations())
	}
	for c := range 4 {
		if n := h.Len(fmt.Sprintf("conv-%d", c)); n != 100 {
			t.Errorf("conv-%d len = %d, want 100", c, n)
		}
	}
}

func TestHistory_SnapshotRestore(t *testing.T) {
	h := NewHistory(3, 3)
	for i := range 3 {
		h.Append("a", fmt.Sprintf("a%d", i))
	}
	h.Append("b", "b0")

	snap := h.Snapshot()
	snap["a"][0].Text = "mutated"
	if h.Items("a")[0].Text != "a0" {
		t.Error("Snapshot should be a deep copy")
	}

	other := NewHistory(2, 2)
	other.Restore(h.Snapshot())
	if got := other.Items("a"); len(got) != 2 || got[0].Text != "a1" || got[1].Text != "a2" {
		t.Errorf("Restore should keep the newest items, got %+v", got)
	}
	if other.Len("b") != 1 {
		t.Errorf("Len(b) = %d, want 1", other.Len("b"))
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	h := NewHistory(10, 10)
	h.Append("a", "hello")
	h.Append("a", "Assistant: hi")

	if err := h.Save(t.Context(), store); err != nil {
		t.Fatal(err)
	}

	restored := NewHistory(10, 10)
	if err := restored.Load(t.Context(), store); err != nil {
		t.Fatal(err)
	}
	got, want := restored.Items("a"), h.Items("a")
	if len(got) != len(want) {
		t.Fatalf("loaded %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
