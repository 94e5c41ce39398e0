// Package ledger keeps the per-conversation message history and the
// lightweight last-activity index the recency sort reads. It is mutated
// only by message ingestion (live and archive), never by the roster, and
// is confined to the engine run loop, so it carries no locks.
package ledger

import (
	"sort"
	"time"
)

// Message is one transcript entry for a conversation.
type Message struct {
	ID      string
	From    string // bare address of the sender
	Body    string
	At      time.Time
	Inbound bool
}

// Ledger indexes messages, recency, unread counts and composing state by
// conversation id (the peer's bare address).
type Ledger struct {
	messages     map[string][]Message
	seen         map[string]map[string]struct{} // conversation → message ids
	lastActivity map[string]time.Time
	unread       map[string]int
	composing    map[string]bool

	// onChange fires after any mutation that can affect recency ordering
	// or indicators. Set once by the roster before the loop starts.
	onChange func(conversation string)
}

func New() *Ledger {
	return &Ledger{
		messages:     make(map[string][]Message),
		seen:         make(map[string]map[string]struct{}),
		lastActivity: make(map[string]time.Time),
		unread:       make(map[string]int),
		composing:    make(map[string]bool),
	}
}

// OnChange registers the change hook. A nil hook is allowed.
func (l *Ledger) OnChange(fn func(conversation string)) { l.onChange = fn }

func (l *Ledger) notify(conversation string) {
	if l.onChange != nil {
		l.onChange(conversation)
	}
}

// Append inserts a message into its conversation, keeping timestamp order.
// Duplicate message ids (an archive page overlapping live delivery) are
// dropped.
func (l *Ledger) Append(conversation string, m Message) {
	if m.ID != "" {
		ids := l.seen[conversation]
		if ids == nil {
			ids = make(map[string]struct{})
			l.seen[conversation] = ids
		}
		if _, dup := ids[m.ID]; dup {
			return
		}
		ids[m.ID] = struct{}{}
	}
	msgs := l.messages[conversation]
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].At.After(m.At) })
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	l.messages[conversation] = msgs

	l.Touch(conversation, m.At)
}

// Touch records activity at t without a message body. Used by recency
// probes and by store hydration; never moves the index backward.
func (l *Ledger) Touch(conversation string, t time.Time) {
	if t.After(l.lastActivity[conversation]) {
		l.lastActivity[conversation] = t
		l.notify(conversation)
	}
}

// LastActivity reports the newest known activity, zero if none.
func (l *Ledger) LastActivity(conversation string) time.Time {
	return l.lastActivity[conversation]
}

// Messages returns the ordered transcript for a conversation.
// The returned slice is owned by the ledger.
func (l *Ledger) Messages(conversation string) []Message {
	return l.messages[conversation]
}

// AddUnread bumps the unread count for a conversation.
func (l *Ledger) AddUnread(conversation string) {
	l.unread[conversation]++
	l.notify(conversation)
}

// SetUnread overwrites the unread count (store hydration).
func (l *Ledger) SetUnread(conversation string, n int) {
	if n <= 0 {
		delete(l.unread, conversation)
		return
	}
	l.unread[conversation] = n
}

// MarkRead clears the unread count.
func (l *Ledger) MarkRead(conversation string) {
	if l.unread[conversation] == 0 {
		return
	}
	delete(l.unread, conversation)
	l.notify(conversation)
}

// Unread reports the unread count for one conversation.
func (l *Ledger) Unread(conversation string) int { return l.unread[conversation] }

// UnreadConversations lists every conversation with unread messages.
func (l *Ledger) UnreadConversations() []string {
	out := make([]string, 0, len(l.unread))
	for id := range l.unread {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OldestUnreadAt reports the timestamp of the oldest still-unread inbound
// message: counting back Unread(c) inbound messages from the newest. The
// second return is false when the count outruns the known transcript.
func (l *Ledger) OldestUnreadAt(conversation string) (time.Time, bool) {
	n := l.unread[conversation]
	if n == 0 {
		return time.Time{}, false
	}
	msgs := l.messages[conversation]
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].Inbound {
			continue
		}
		n--
		if n == 0 {
			return msgs[i].At, true
		}
	}
	return time.Time{}, false
}

// SetComposing tracks the "someone is typing" indicator.
func (l *Ledger) SetComposing(conversation string, composing bool) {
	if l.composing[conversation] == composing {
		return
	}
	if composing {
		l.composing[conversation] = true
	} else {
		delete(l.composing, conversation)
	}
	l.notify(conversation)
}

// Composing reports the typing indicator for one conversation.
func (l *Ledger) Composing(conversation string) bool { return l.composing[conversation] }
