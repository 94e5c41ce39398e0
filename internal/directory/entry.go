// Package directory holds the value types for the two-level contact
// hierarchy (dispatchers and their sessions) plus the sorting rules the
// roster publishes lists with.
package directory

import (
	"math"
	"strconv"
	"strings"
)

// OrderUnset is the sort order of an entry whose discovery node carried no
// order tag. Unordered entries sort after every ordered one.
const OrderUnset = math.MaxInt

// Entry is one directory contact: a dispatcher or a session.
type Entry struct {
	ID          string // bare address, unique
	DisplayName string
	Direct      bool // dispatcher with no sessions; chat goes straight to it
	Closed      bool // historical/ended session
	Group       bool
	SortOrder   int // server-assigned tie-break, OrderUnset if absent
}

// Name returns the display name, falling back to the address.
func (e Entry) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.ID
}

// ParseNodeTag reads the marker tokens of a discovery node identifier.
// Tags are semicolon-separated tokens: "closed", "group", "direct", and
// "order:N". Unknown tokens and malformed order values are ignored, so a
// tag from an older server parses to a plain entry.
func ParseNodeTag(tag string) (order int, direct, closed, group bool) {
	order = OrderUnset
	for _, tok := range strings.Split(tag, ";") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "direct":
			direct = true
		case tok == "closed":
			closed = true
		case tok == "group":
			group = true
		case strings.HasPrefix(tok, "order:"):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "order:"))
			if err == nil {
				order = n
			}
		}
	}
	return order, direct, closed, group
}
