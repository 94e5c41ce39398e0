package directory

import (
	"testing"
	"time"
)

func activityMap(m map[string]int64) func(string) time.Time {
	return func(id string) time.Time {
		if ts, ok := m[id]; ok {
			return time.Unix(ts, 0)
		}
		return time.Time{}
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestSortByRecencyOrdersByActivityDesc(t *testing.T) {
	entries := []Entry{
		{ID: "s1"},
		{ID: "s2"},
		{ID: "s3"},
	}
	got := SortByRecency(entries, activityMap(map[string]int64{"s1": 10, "s2": 30, "s3": 20}))
	want := []string{"s2", "s3", "s1"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
}

func TestSortByRecencyClosedAlwaysLast(t *testing.T) {
	entries := []Entry{
		{ID: "c1", Closed: true},
		{ID: "a1"},
		{ID: "c2", Closed: true},
		{ID: "a2"},
	}
	// Closed entries have newer activity than active ones; they still
	// sort after every active entry, in original relative order.
	got := SortByRecency(entries, activityMap(map[string]int64{"c1": 100, "c2": 90, "a1": 5, "a2": 6}))
	want := []string{"a2", "a1", "c1", "c2"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
}

func TestSortByRecencyIdempotent(t *testing.T) {
	entries := []Entry{
		{ID: "b", DisplayName: "Beta"},
		{ID: "a", DisplayName: "beta"}, // same name case-folded, id breaks the tie
		{ID: "z", Closed: true},
		{ID: "c", DisplayName: "Gamma"},
	}
	activity := activityMap(map[string]int64{"a": 10, "b": 10, "c": 10})

	once := SortByRecency(entries, activity)
	twice := SortByRecency(once, activity)
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Fatalf("resort changed order: %v vs %v", ids(once), ids(twice))
		}
	}
	want := []string{"a", "b", "c", "z"}
	for i, id := range want {
		if once[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(once), want)
		}
	}
}

func TestSortByRecencyUnknownActivitySortsLast(t *testing.T) {
	entries := []Entry{
		{ID: "new"},
		{ID: "seen"},
	}
	got := SortByRecency(entries, activityMap(map[string]int64{"seen": 1}))
	if got[0].ID != "seen" || got[1].ID != "new" {
		t.Fatalf("order = %v, want [seen new]", ids(got))
	}
}

func TestSortDispatchers(t *testing.T) {
	entries := []Entry{
		{ID: "x", DisplayName: "Xavier", SortOrder: OrderUnset},
		{ID: "b", DisplayName: "Billing", SortOrder: 2},
		{ID: "a", DisplayName: "Support", SortOrder: 1},
		{ID: "y", DisplayName: "Archive", SortOrder: OrderUnset},
	}
	got := SortDispatchers(entries)
	want := []string{"a", "b", "y", "x"} // ordered first, then unordered by name
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}
}

func TestParseNodeTag(t *testing.T) {
	tests := []struct {
		tag    string
		order  int
		direct bool
		closed bool
		group  bool
	}{
		{"", OrderUnset, false, false, false},
		{"order:3", 3, false, false, false},
		{"closed", OrderUnset, false, true, false},
		{"order:1;closed;group", 1, false, true, true},
		{"direct", OrderUnset, true, false, false},
		{"order:bogus", OrderUnset, false, false, false},
		{" order:2 ; direct ", 2, true, false, false},
		{"something:new;closed", OrderUnset, false, true, false},
	}
	for _, tt := range tests {
		order, direct, closed, group := ParseNodeTag(tt.tag)
		if order != tt.order || direct != tt.direct || closed != tt.closed || group != tt.group {
			t.Errorf("ParseNodeTag(%q) = (%d,%v,%v,%v), want (%d,%v,%v,%v)",
				tt.tag, order, direct, closed, group, tt.order, tt.direct, tt.closed, tt.group)
		}
	}
}
