package roster

import "github.com/ehrlich-b/switchboard/internal/directory"

// EventKind discriminates the state-change events the cache emits.
type EventKind int

const (
	// EventDispatchers replaces the dispatcher list.
	EventDispatchers EventKind = iota + 1
	// EventSessions replaces the visible session list for the selected
	// dispatcher, already in display order.
	EventSessions
	// EventSelection reports the current navigation position and the
	// dispatcher/session ids it resolves to.
	EventSelection
	// EventTarget reports the active chat target (zero = none).
	EventTarget
	// EventFlags reports the loading / loaded-once flags for the
	// selected dispatcher's session list.
	EventFlags
	// EventIndicators replaces the per-dispatcher aggregate unread and
	// composing indicators.
	EventIndicators
)

// Indicators is the aggregate state of one dispatcher's sessions.
type Indicators struct {
	Unread    int
	Composing bool
}

// Event is one observable state change. Only the fields for its Kind are
// set.
type Event struct {
	Kind EventKind

	Dispatchers []directory.Entry
	Sessions    []directory.Entry

	Selection    directory.Selection
	DispatcherID string
	SessionID    string

	Target directory.Target

	LoadingSessions bool
	LoadedOnce      bool

	Indicators map[string]Indicators
}

// Sink receives events on the run loop. Handlers must not block.
type Sink func(Event)
