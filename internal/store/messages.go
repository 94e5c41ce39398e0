package store

import "time"

type Conversation struct {
	ID           string
	DispatcherID string
	DisplayName  string
	Closed       bool
	LastActivity time.Time
	Unread       int
}

type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Body           string
	At             time.Time
	Inbound        bool
}

// UpsertConversation creates or refreshes a conversation row, keeping the
// newest last-activity.
func (s *Store) UpsertConversation(c *Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, dispatcher_id, display_name, closed, last_activity, unread)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			dispatcher_id = excluded.dispatcher_id,
			display_name  = excluded.display_name,
			closed        = excluded.closed,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			unread        = excluded.unread`,
		c.ID, c.DispatcherID, c.DisplayName, boolToInt(c.Closed), c.LastActivity.UnixMilli(), c.Unread,
	)
	return err
}

// AppendMessage writes one message and advances the conversation's
// last-activity. Messages with an id the conversation already holds are
// ignored (archive pages overlap live delivery).
func (s *Store) AppendMessage(m *Message) error {
	if _, err := s.db.Exec(
		`INSERT INTO conversations (id, last_activity) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			last_activity = MAX(conversations.last_activity, excluded.last_activity)`,
		m.ConversationID, m.At.UnixMilli(),
	); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages (id, conversation_id, sender, body, at, inbound)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Sender, m.Body, m.At.UnixMilli(), boolToInt(m.Inbound),
	)
	return err
}

// SetUnread records the unread count for a conversation.
func (s *Store) SetUnread(conversationID string, unread int) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET unread = ? WHERE id = ?`, unread, conversationID,
	)
	return err
}

// ListConversations returns every known conversation, most recent first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, dispatcher_id, display_name, closed, last_activity, unread
		 FROM conversations ORDER BY last_activity DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Conversation
	for rows.Next() {
		var (
			c          Conversation
			closedInt  int
			activityMs int64
		)
		if err := rows.Scan(&c.ID, &c.DispatcherID, &c.DisplayName, &closedInt, &activityMs, &c.Unread); err != nil {
			return nil, err
		}
		c.Closed = closedInt != 0
		c.LastActivity = time.UnixMilli(activityMs)
		result = append(result, &c)
	}
	return result, rows.Err()
}

// RecentMessages returns up to limit messages for a conversation, oldest
// first.
func (s *Store) RecentMessages(conversationID string, limit int) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, sender, body, at, inbound FROM (
			SELECT id, conversation_id, sender, body, at, inbound, seq
			FROM messages WHERE conversation_id = ?
			ORDER BY at DESC, seq DESC LIMIT ?
		 ) ORDER BY at ASC, seq ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*Message
	for rows.Next() {
		var (
			m          Message
			atMs       int64
			inboundInt int
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Body, &atMs, &inboundInt); err != nil {
			return nil, err
		}
		m.At = time.UnixMilli(atMs)
		m.Inbound = inboundInt != 0
		result = append(result, &m)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
