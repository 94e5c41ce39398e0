package directory

import (
	"sort"
	"strings"
	"time"
)

// SortByRecency orders a session list for display: active entries first by
// last-activity descending, then closed entries in their original relative
// order. Ties among active entries break by case-insensitive display name,
// then by id, so the result is deterministic and idempotent.
//
// lastActivity reports the newest known activity for an id; the zero time
// means "never seen", which sorts an active entry last among active.
func SortByRecency(entries []Entry, lastActivity func(id string) time.Time) []Entry {
	active := make([]Entry, 0, len(entries))
	closed := make([]Entry, 0)
	for _, e := range entries {
		if e.Closed {
			closed = append(closed, e)
		} else {
			active = append(active, e)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		ti, tj := lastActivity(active[i].ID), lastActivity(active[j].ID)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		ni, nj := strings.ToLower(active[i].Name()), strings.ToLower(active[j].Name())
		if ni != nj {
			return ni < nj
		}
		return active[i].ID < active[j].ID
	})
	return append(active, closed...)
}

// SortDispatchers orders the top-level list by the server-assigned order,
// unordered entries last, ties by case-insensitive name then id.
func SortDispatchers(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		ni, nj := strings.ToLower(out[i].Name()), strings.ToLower(out[j].Name())
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
