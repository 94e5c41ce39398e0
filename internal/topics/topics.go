// Package topics tracks which notification topics the engine is subscribed
// to, issuing at most one subscribe request per topic no matter how often a
// subscription is asked for.
package topics

import "log/slog"

// SubscribeFunc issues a subscribe request to the notification service and
// calls done with the acknowledgment result. done may be called from any
// goroutine; the Manager requires it to be marshaled onto the run loop
// before it runs.
type SubscribeFunc func(service, topic string, done func(err error))

// Manager owns the subscribed and pending topic sets. Confined to the run
// loop. Within one connection a topic never moves backward from subscribed
// to pending; only Resubscribe, on a reconnect, drops the set.
type Manager struct {
	log       *slog.Logger
	service   string
	subscribe SubscribeFunc

	subscribed map[string]struct{}
	pending    map[string]struct{}
}

func NewManager(log *slog.Logger, service string, subscribe SubscribeFunc) *Manager {
	return &Manager{
		log:        log,
		service:    service,
		subscribe:  subscribe,
		subscribed: make(map[string]struct{}),
		pending:    make(map[string]struct{}),
	}
}

// EnsureSubscribed is idempotent: a no-op while the topic is pending or
// already subscribed.
func (m *Manager) EnsureSubscribed(topic string) {
	if _, ok := m.subscribed[topic]; ok {
		return
	}
	if _, ok := m.pending[topic]; ok {
		return
	}
	m.pending[topic] = struct{}{}
	m.subscribe(m.service, topic, func(err error) {
		if err != nil {
			// Eligible for a retry on the next EnsureSubscribed.
			delete(m.pending, topic)
			m.log.Warn("subscribe failed", "topic", topic, "err", err)
			return
		}
		delete(m.pending, topic)
		m.subscribed[topic] = struct{}{}
		m.log.Debug("subscribed", "topic", topic)
	})
}

// Resubscribe re-issues every known subscription on a fresh connection.
// Acknowledgments belong to the connection that sent them, so after a
// reconnect the whole set drops back to pending until the new connection
// acks each topic again.
func (m *Manager) Resubscribe() {
	known := make([]string, 0, len(m.subscribed)+len(m.pending))
	for topic := range m.subscribed {
		known = append(known, topic)
	}
	for topic := range m.pending {
		known = append(known, topic)
	}
	m.subscribed = make(map[string]struct{})
	m.pending = make(map[string]struct{})
	for _, topic := range known {
		m.EnsureSubscribed(topic)
	}
}

// Subscribed reports whether the topic was acknowledged at some point.
// Push events for unsubscribed topics are ignored by the roster.
func (m *Manager) Subscribed(topic string) bool {
	_, ok := m.subscribed[topic]
	return ok
}

// Pending reports whether a subscribe request is in flight.
func (m *Manager) Pending(topic string) bool {
	_, ok := m.pending[topic]
	return ok
}
