// Package roster owns the client-visible directory state: the dispatcher
// list, the per-dispatcher session lists, the current selection and chat
// target. It reconciles discovery queries, push notifications and archive
// results into that state on the engine run loop and emits typed events
// for the rendering layer.
package roster

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ehrlich-b/switchboard/internal/archive"
	"github.com/ehrlich-b/switchboard/internal/directory"
	"github.com/ehrlich-b/switchboard/internal/ledger"
	"github.com/ehrlich-b/switchboard/internal/runloop"
	"github.com/ehrlich-b/switchboard/internal/topics"
	"github.com/ehrlich-b/switchboard/internal/transport"
)

const (
	// DispatchersNode is the well-known discovery node and notification
	// topic for the top-level dispatcher list.
	DispatchersNode = "dispatchers"

	sessionsTopicPrefix = "sessions:"

	// pickupPrefix addresses a resume request to a dispatcher so it can
	// reopen a closed session.
	pickupPrefix = "resume:"
)

// SessionsTopic names the notification topic for a dispatcher's sessions.
func SessionsTopic(dispatcherID string) string {
	return sessionsTopicPrefix + dispatcherID
}

// MessageSink observes every message the cache ingests (live, archive and
// local echo), for persistence.
type MessageSink func(conversation string, m ledger.Message)

// UnreadSink observes unread-count transitions, for persistence. It fires
// when a live inbound message arrives off-target and when selecting a
// session clears its backlog, so the counts survive a restart.
type UnreadSink func(conversation string, unread int)

// Cache is the directory cache and reconciler. All methods must run on
// the engine run loop; network callbacks are posted back onto it before
// they touch state. One Cache lives per authenticated connection.
type Cache struct {
	log     *slog.Logger
	loop    *runloop.Loop
	service string

	disco         transport.Discoverer
	sender        transport.Sender
	topics        *topics.Manager
	archive       *archive.Scheduler
	ledger        *ledger.Ledger
	sink          Sink
	persist       MessageSink
	persistUnread UnreadSink

	dispatchers         []directory.Entry
	dispatchersLoaded   bool
	dispatchersFetching bool

	sessions           map[string][]directory.Entry   // dispatcher → cached session list
	owner              map[string]string              // session → owning dispatcher
	dispatcherSessions map[string]map[string]struct{} // dispatcher → session id set
	remembered         map[string]string              // dispatcher → last selected session
	known              map[string]map[string]struct{} // change-detection baseline
	tokens             map[string]uint64              // per-dispatcher discovery tokens

	selectedDispatcher string
	selectedSession    string
	nav                directory.Selection
	target             directory.Target
	visible            []directory.Entry // last published display order
	loading            bool
	loadedOnce         map[string]bool

	resort *resortScheduler
	await  *awaiter
}

// New wires a Cache to its collaborators. sink receives events on the run
// loop; persist and persistUnread may be nil.
func New(log *slog.Logger, loop *runloop.Loop, service string, disco transport.Discoverer, sender transport.Sender, tm *topics.Manager, sched *archive.Scheduler, led *ledger.Ledger, sink Sink, persist MessageSink, persistUnread UnreadSink) *Cache {
	c := &Cache{
		log:                log,
		loop:               loop,
		service:            service,
		disco:              disco,
		sender:             sender,
		topics:             tm,
		archive:            sched,
		ledger:             led,
		sink:               sink,
		persist:            persist,
		persistUnread:      persistUnread,
		sessions:           make(map[string][]directory.Entry),
		owner:              make(map[string]string),
		dispatcherSessions: make(map[string]map[string]struct{}),
		remembered:         make(map[string]string),
		known:              make(map[string]map[string]struct{}),
		tokens:             make(map[string]uint64),
		loadedOnce:         make(map[string]bool),
	}
	c.resort = newResortScheduler(loop, func() bool {
		return c.loading || c.archive.Warm()
	}, c.publishSessions)
	c.await = newAwaiter(loop, c.querySessions)
	led.OnChange(c.onLedgerChange)
	sched.OnWarm(func(warm bool) {
		if !warm {
			// Bulk backfill finished; converge the visible order.
			c.resort.Schedule()
		}
	})
	return c
}

func (c *Cache) emit(ev Event) {
	if c.sink != nil {
		c.sink(ev)
	}
}

// --- refresh and discovery ---

// RefreshAll is idempotent: it fetches the dispatcher list once and
// re-fetches sessions for the selected dispatcher, if any and not direct.
func (c *Cache) RefreshAll() {
	c.topics.EnsureSubscribed(DispatchersNode)
	if !c.dispatchersLoaded {
		c.fetchDispatchers()
	}
	if d := c.selectedDispatcher; d != "" && !c.isDirect(d) {
		c.querySessions(d)
	}
}

func (c *Cache) fetchDispatchers() {
	if c.dispatchersFetching {
		return
	}
	c.dispatchersFetching = true
	c.disco.DiscoverItems(c.service, DispatchersNode, func(items []transport.Item, err error) {
		c.loop.Post(func() {
			c.dispatchersFetching = false
			if err != nil {
				c.log.Warn("dispatcher discovery failed", "err", err)
				return
			}
			c.dispatchers = directory.SortDispatchers(entriesFromItems(items))
			c.dispatchersLoaded = true
			c.emit(Event{Kind: EventDispatchers, Dispatchers: c.dispatchers})
		})
	})
}

// querySessions issues a discovery query for a dispatcher's sessions. The
// result is applied only if its token is still the latest for that
// dispatcher and the dispatcher is still selected, discarding stale
// results from rapid switching.
func (c *Cache) querySessions(d string) {
	c.tokens[d]++
	token := c.tokens[d]
	if d == c.selectedDispatcher {
		c.setLoading(true)
	}
	c.disco.DiscoverItems(c.service, sessionsTopicPrefix+d, func(items []transport.Item, err error) {
		c.loop.Post(func() {
			c.handleSessionsResult(d, token, items, err)
		})
	})
}

func (c *Cache) handleSessionsResult(d string, token uint64, items []transport.Item, err error) {
	if token != c.tokens[d] {
		c.log.Debug("stale session list dropped", "dispatcher", d, "token", token)
		return
	}
	if d != c.selectedDispatcher {
		c.log.Debug("session list for unselected dispatcher dropped", "dispatcher", d)
		return
	}
	if err != nil {
		c.setLoading(false)
		c.log.Warn("session discovery failed", "dispatcher", d, "err", err)
		return
	}
	c.applySessions(d, entriesFromItems(items))
}

// applySessions merges a fresh session list for a dispatcher into the
// cache: diffs against the known-id baseline, reassigns ownership, prunes
// a dangling remembered selection, and, when the dispatcher is selected,
// publishes the sorted list and prefetches archive data for newly
// appeared ids only.
func (c *Cache) applySessions(d string, entries []directory.Entry) {
	newIDs := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		newIDs[e.ID] = struct{}{}
	}
	prev := c.known[d]

	var appeared []string
	for _, e := range entries {
		if _, ok := prev[e.ID]; !ok {
			appeared = append(appeared, e.ID)
		}
	}
	for id := range prev {
		if _, ok := newIDs[id]; ok {
			continue
		}
		if c.owner[id] == d {
			delete(c.owner, id)
			delete(c.dispatcherSessions[d], id)
		}
	}

	set := c.dispatcherSessions[d]
	if set == nil {
		set = make(map[string]struct{})
		c.dispatcherSessions[d] = set
	}
	for _, e := range entries {
		if old, ok := c.owner[e.ID]; ok && old != d {
			// A session id owns at most one dispatcher mapping; moving
			// here invalidates the prior owner.
			c.evictFrom(old, e.ID)
			c.archive.Forget(e.ID)
		}
		c.owner[e.ID] = d
		set[e.ID] = struct{}{}
	}

	c.known[d] = newIDs
	c.sessions[d] = entries

	if r, ok := c.remembered[d]; ok {
		if _, still := newIDs[r]; !still {
			delete(c.remembered, d)
		}
	}

	if d != c.selectedDispatcher {
		c.emitIndicators()
		return
	}

	c.setLoading(false)
	if !c.loadedOnce[d] {
		c.loadedOnce[d] = true
		c.emitFlags()
	}
	c.publishSessions()
	c.emitIndicators()

	byID := make(map[string]directory.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	for _, id := range appeared {
		e := byID[id]
		if e.Closed {
			// Closed sessions load history on explicit selection only
			// and are excluded from recency probes.
			continue
		}
		c.archive.EnsureHistory(id)
		c.archive.EnsureProbe(id)
	}

	if c.selectedSession != "" {
		if _, still := newIDs[c.selectedSession]; !still {
			c.selectedSession = ""
			c.nav = directory.Selection{Kind: directory.SelectDispatcher, ID: d}
			c.target = directory.DispatcherTarget(d)
			c.emitSelection()
			c.emitTarget()
		}
	}

	if id, ok := c.await.Observe(d, appeared); ok {
		if e, found := byID[id]; found {
			c.log.Info("new session auto-selected", "dispatcher", d, "session", id)
			c.SelectSession(e)
		}
	}
}

// evictFrom removes a session from a previous owner's cached state.
func (c *Cache) evictFrom(d, sessionID string) {
	delete(c.dispatcherSessions[d], sessionID)
	if set := c.known[d]; set != nil {
		delete(set, sessionID)
	}
	if c.remembered[d] == sessionID {
		delete(c.remembered, d)
	}
	list := c.sessions[d]
	for i, e := range list {
		if e.ID == sessionID {
			c.sessions[d] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// --- selection ---

// SelectDispatcher switches the navigation to a dispatcher. Re-selecting
// the current dispatcher only re-focuses the chat target; a real switch
// publishes any cached session list immediately while a background
// refresh runs.
func (c *Cache) SelectDispatcher(e directory.Entry) {
	if e.ID == c.selectedDispatcher {
		c.emitTarget()
		return
	}
	c.await.Reset()
	c.selectedDispatcher = e.ID
	c.selectedSession = ""
	c.nav = directory.Selection{Kind: directory.SelectDispatcher, ID: e.ID}
	c.target = directory.DispatcherTarget(e.ID)
	c.emitSelection()

	if e.Direct {
		// Pure passthrough contact: chat goes straight to the
		// dispatcher, no session query.
		c.visible = nil
		c.setLoading(false)
		c.emit(Event{Kind: EventSessions})
		c.emitTarget()
		return
	}

	c.resort.SuppressSwitch()

	c.publishSessions()
	if r, ok := c.remembered[e.ID]; ok {
		if re, found := c.cachedEntry(e.ID, r); found {
			c.SelectSession(re)
		}
	}
	c.emitTarget()

	c.topics.EnsureSubscribed(SessionsTopic(e.ID))
	c.querySessions(e.ID)
}

// SelectSession makes a session the active chat target, remembers it for
// its dispatcher, clears its unread count and requests history.
func (c *Cache) SelectSession(e directory.Entry) {
	c.await.Reset()
	c.selectedSession = e.ID
	if c.selectedDispatcher != "" {
		c.remembered[c.selectedDispatcher] = e.ID
	}
	c.nav = directory.Selection{Kind: directory.SelectIndividual, ID: e.ID}
	c.target = directory.IndividualTarget(e.ID)
	c.ledger.MarkRead(e.ID)
	c.noteUnread(e.ID)
	c.archive.EnsureHistory(e.ID)
	c.emitSelection()
	c.emitTarget()
	c.emitIndicators()
}

// Select routes a navigation selection to its level. Dispatcher and
// individual selections resolve against the cache and fall through to the
// dedicated methods; a group selection is a pure filter and never moves
// the chat target; a subagent selection addresses the subagent directly.
func (c *Cache) Select(nav directory.Selection) {
	switch nav.Kind {
	case directory.SelectDispatcher:
		if e, ok := c.dispatcherEntry(nav.ID); ok {
			c.SelectDispatcher(e)
		}
	case directory.SelectGroup:
		c.nav = nav
		c.emitSelection()
	case directory.SelectIndividual:
		c.focusSession(nav.ID)
	case directory.SelectSubagent:
		c.await.Reset()
		c.nav = nav
		c.target = directory.SubagentTarget(nav.ID)
		c.emitSelection()
		c.emitTarget()
	}
}

// SelectNext moves the session selection one step down the display order.
func (c *Cache) SelectNext() { c.step(1) }

// SelectPrev moves the session selection one step up the display order.
func (c *Cache) SelectPrev() { c.step(-1) }

func (c *Cache) step(delta int) {
	if len(c.visible) == 0 {
		return
	}
	idx := -1
	for i, e := range c.visible {
		if e.ID == c.selectedSession {
			idx = i
			break
		}
	}
	var next int
	switch {
	case idx < 0 && delta > 0:
		next = 0
	case idx < 0:
		next = len(c.visible) - 1
	default:
		next = idx + delta
	}
	if next < 0 || next >= len(c.visible) {
		return
	}
	c.SelectSession(c.visible[next])
}

// ResumeClosedSession asks the owning dispatcher to reopen a closed
// session and begins awaiting the replacement.
func (c *Cache) ResumeClosedSession(e directory.Entry) {
	d := c.owner[e.ID]
	if d == "" {
		d = c.selectedDispatcher
	}
	if d == "" {
		return
	}
	if err := c.sender.SendMessage(d, pickupPrefix+e.ID); err != nil {
		c.log.Warn("pickup send failed", "dispatcher", d, "session", e.ID, "err", err)
		return
	}
	c.await.Begin(d, c.known[d])
}

// --- outbound ---

// SendChat routes a chat body to the active target. Sending to a
// dispatcher with no session selected optimistically begins awaiting the
// session that send is expected to create.
func (c *Cache) SendChat(body string) {
	peer, ok := c.sendTarget()
	if !ok {
		return
	}
	if err := c.sender.SendMessage(peer, body); err != nil {
		c.log.Warn("send failed", "peer", peer, "err", err)
		return
	}
	c.ingest(peer, ledger.Message{
		Body: body,
		At:   time.Now(),
	})
	c.maybeAwaitNewSession(peer)
}

// SendAttachment routes an attachment to the active target.
func (c *Cache) SendAttachment(name string, data []byte) {
	peer, ok := c.sendTarget()
	if !ok {
		return
	}
	if err := c.sender.SendAttachment(peer, name, data); err != nil {
		c.log.Warn("attachment send failed", "peer", peer, "name", name, "err", err)
		return
	}
	c.ingest(peer, ledger.Message{
		Body: name,
		At:   time.Now(),
	})
	c.maybeAwaitNewSession(peer)
}

func (c *Cache) sendTarget() (string, bool) {
	if c.target.IsZero() {
		return "", false
	}
	return c.target.Address, true
}

func (c *Cache) maybeAwaitNewSession(peer string) {
	if c.target.Kind != directory.TargetDispatcher {
		return
	}
	if c.isDirect(peer) || c.selectedSession != "" || c.await.Awaiting() {
		return
	}
	c.await.Begin(peer, c.known[peer])
}

// --- ingestion ---

// HandleLiveMessage ingests a pushed chat message from a peer.
func (c *Cache) HandleLiveMessage(from string, m ledger.Message) {
	if m.Inbound && c.target.Address != from {
		c.ledger.AddUnread(from)
		c.noteUnread(from)
	}
	c.ingest(from, m)
}

// HandleComposing ingests a typing notification from a peer.
func (c *Cache) HandleComposing(from string, composing bool) {
	c.ledger.SetComposing(from, composing)
}

func (c *Cache) ingest(conversation string, m ledger.Message) {
	c.ledger.Append(conversation, m)
	if c.persist != nil {
		c.persist(conversation, m)
	}
}

func (c *Cache) noteUnread(conversation string) {
	if c.persistUnread != nil {
		c.persistUnread(conversation, c.ledger.Unread(conversation))
	}
}

// HistoryMessage implements archive.Sink.
func (c *Cache) HistoryMessage(peer string, m transport.ArchiveMessage) {
	c.ingest(peer, ledger.Message{
		ID:      m.ID,
		From:    m.From,
		Body:    m.Body,
		At:      m.At,
		Inbound: m.Inbound,
	})
}

// ProbeActivity implements archive.Sink.
func (c *Cache) ProbeActivity(peer string, at time.Time) {
	c.ledger.Touch(peer, at)
}

// --- push notifications ---

// HandleTopicEvent applies a push notification. Events for topics the
// engine never subscribed to are ignored. A sessions event with an inline
// payload applies directly; without one it falls back to a discovery
// re-query.
func (c *Cache) HandleTopicEvent(ev transport.TopicEvent) {
	if !c.topics.Subscribed(ev.Topic) {
		c.log.Debug("event for unsubscribed topic ignored", "topic", ev.Topic)
		return
	}
	if ev.Topic == DispatchersNode {
		c.dispatchersLoaded = false
		c.fetchDispatchers()
		return
	}
	d, ok := strings.CutPrefix(ev.Topic, sessionsTopicPrefix)
	if !ok {
		c.log.Debug("unrecognized topic", "topic", ev.Topic)
		return
	}
	if len(ev.Payload) == 0 {
		c.querySessions(d)
		return
	}
	entries := make([]directory.Entry, 0, len(ev.Payload))
	for _, sd := range ev.Payload {
		entries = append(entries, directory.Entry{
			ID:          sd.Address,
			DisplayName: sd.DisplayName,
			Closed:      sd.Closed,
			Group:       sd.Group,
			SortOrder:   directory.OrderUnset,
		})
	}
	c.applySessions(d, entries)
}

// --- focus jump ---

// FocusOldestWaiting selects the session whose oldest still-unread inbound
// message is globally oldest, ties broken by id. Dispatcher-level threads
// are excluded. With nothing unread it falls back to the most recently
// active known session. Reports whether a target was found.
func (c *Cache) FocusOldestWaiting() bool {
	var (
		bestID string
		bestAt time.Time
		found  bool
	)
	for _, id := range c.ledger.UnreadConversations() {
		if _, owned := c.owner[id]; !owned {
			continue
		}
		at, _ := c.ledger.OldestUnreadAt(id)
		if !found || at.Before(bestAt) || (at.Equal(bestAt) && id < bestID) {
			bestID, bestAt, found = id, at, true
		}
	}
	if !found {
		for id := range c.owner {
			if e, ok := c.cachedEntry(c.owner[id], id); !ok || e.Closed {
				continue
			}
			at := c.ledger.LastActivity(id)
			if at.IsZero() {
				continue
			}
			if !found || at.After(bestAt) || (at.Equal(bestAt) && id < bestID) {
				bestID, bestAt, found = id, at, true
			}
		}
	}
	if !found {
		return false
	}
	return c.focusSession(bestID)
}

func (c *Cache) focusSession(sessionID string) bool {
	d := c.owner[sessionID]
	if d == "" {
		return false
	}
	if d != c.selectedDispatcher {
		de, ok := c.dispatcherEntry(d)
		if !ok {
			return false
		}
		c.SelectDispatcher(de)
	}
	e, ok := c.cachedEntry(d, sessionID)
	if !ok {
		return false
	}
	c.SelectSession(e)
	return true
}

// --- publication and lookups ---

func (c *Cache) publishSessions() {
	d := c.selectedDispatcher
	if d == "" || c.isDirect(d) {
		return
	}
	c.visible = directory.SortByRecency(c.sessions[d], c.ledger.LastActivity)
	c.emit(Event{Kind: EventSessions, Sessions: c.visible})
}

func (c *Cache) onLedgerChange(conversation string) {
	d, owned := c.owner[conversation]
	if !owned {
		return
	}
	if d == c.selectedDispatcher {
		c.resort.Schedule()
	}
	c.emitIndicators()
}

func (c *Cache) emitSelection() {
	c.emit(Event{
		Kind:         EventSelection,
		Selection:    c.nav,
		DispatcherID: c.selectedDispatcher,
		SessionID:    c.selectedSession,
	})
}

func (c *Cache) emitTarget() {
	c.emit(Event{Kind: EventTarget, Target: c.target})
}

func (c *Cache) emitFlags() {
	c.emit(Event{
		Kind:            EventFlags,
		LoadingSessions: c.loading,
		LoadedOnce:      c.loadedOnce[c.selectedDispatcher],
	})
}

func (c *Cache) emitIndicators() {
	ind := make(map[string]Indicators, len(c.dispatcherSessions))
	for d, set := range c.dispatcherSessions {
		var agg Indicators
		for id := range set {
			agg.Unread += c.ledger.Unread(id)
			if c.ledger.Composing(id) {
				agg.Composing = true
			}
		}
		if agg.Unread > 0 || agg.Composing {
			ind[d] = agg
		}
	}
	c.emit(Event{Kind: EventIndicators, Indicators: ind})
}

func (c *Cache) setLoading(loading bool) {
	if c.loading == loading {
		return
	}
	c.loading = loading
	c.emitFlags()
}

func (c *Cache) isDirect(dispatcherID string) bool {
	e, ok := c.dispatcherEntry(dispatcherID)
	return ok && e.Direct
}

func (c *Cache) dispatcherEntry(id string) (directory.Entry, bool) {
	for _, e := range c.dispatchers {
		if e.ID == id {
			return e, true
		}
	}
	return directory.Entry{}, false
}

func (c *Cache) cachedEntry(dispatcherID, sessionID string) (directory.Entry, bool) {
	for _, e := range c.sessions[dispatcherID] {
		if e.ID == sessionID {
			return e, true
		}
	}
	return directory.Entry{}, false
}

// --- accessors for the rendering layer ---

// Dispatchers returns the cached dispatcher list.
func (c *Cache) Dispatchers() []directory.Entry { return c.dispatchers }

// Sessions returns the last published session list for the selected
// dispatcher, in display order.
func (c *Cache) Sessions() []directory.Entry { return c.visible }

// Selected returns the current dispatcher and session ids.
func (c *Cache) Selected() (dispatcherID, sessionID string) {
	return c.selectedDispatcher, c.selectedSession
}

// Navigation returns the current navigation position; zero when nothing
// is selected.
func (c *Cache) Navigation() directory.Selection { return c.nav }

// Target returns the active chat target; zero when no dispatcher is
// selected.
func (c *Cache) Target() directory.Target { return c.target }

// Loading reports whether a session list fetch is in flight for the
// selected dispatcher.
func (c *Cache) Loading() bool { return c.loading }

func entriesFromItems(items []transport.Item) []directory.Entry {
	entries := make([]directory.Entry, 0, len(items))
	for _, it := range items {
		order, direct, closed, group := directory.ParseNodeTag(it.Node)
		entries = append(entries, directory.Entry{
			ID:          it.Address,
			DisplayName: it.DisplayName,
			Direct:      direct,
			Closed:      closed,
			Group:       group,
			SortOrder:   order,
		})
	}
	return entries
}
