package directory

// SelectionKind tags the level of the navigation tree a selection refers to.
type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectDispatcher
	SelectGroup
	SelectIndividual
	SelectSubagent
)

// Selection is the current navigation position. Group levels are legacy
// filters in the current hierarchy; selecting one never moves the chat
// target.
type Selection struct {
	Kind SelectionKind
	ID   string
}

func (s Selection) IsZero() bool { return s.Kind == SelectNone }

// TargetKind tags who an outgoing message is addressed to.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetDispatcher
	TargetIndividual
	TargetSubagent
)

// Target is the active chat peer. The zero Target means no peer, which by
// the roster invariant happens exactly when no dispatcher is selected.
type Target struct {
	Kind    TargetKind
	Address string
}

func (t Target) IsZero() bool { return t.Kind == TargetNone }

func DispatcherTarget(addr string) Target { return Target{Kind: TargetDispatcher, Address: addr} }
func IndividualTarget(addr string) Target { return Target{Kind: TargetIndividual, Address: addr} }
func SubagentTarget(addr string) Target   { return Target{Kind: TargetSubagent, Address: addr} }
