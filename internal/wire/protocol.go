package wire

import (
	"encoding/json"
	"fmt"

	"github.com/ehrlich-b/switchboard/internal/transport"
)

// Message types for the relay WebSocket protocol.
const (
	// Client → Relay
	TypeHello        = "hello"
	TypeDiscoQuery   = "disco.query"
	TypeSubRequest   = "sub.request"
	TypeArchiveQuery = "archive.query"
	TypeChatSend     = "chat.send"
	TypeChatAttach   = "chat.attach"

	// Relay → Client
	TypeWelcome         = "welcome"
	TypeDiscoResult     = "disco.result"
	TypeSubAck          = "sub.ack"
	TypeArchiveResult   = "archive.result"
	TypeArchiveComplete = "archive.complete"
	TypeTopicEvent      = "topic.event"
	TypeChatRecv        = "chat.recv"
	TypeChatComposing   = "chat.composing"
	TypeError           = "error"
)

// Envelope wraps every message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Hello authenticates the connection.
type Hello struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// Welcome acknowledges a successful Hello.
type Welcome struct {
	Type    string `json:"type"`
	Address string `json:"address"` // our own bare address
}

// DiscoQuery lists the children of a directory node.
type DiscoQuery struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Service string `json:"service"`
	Node    string `json:"node"`
}

// DiscoResult answers a DiscoQuery.
type DiscoResult struct {
	Type  string           `json:"type"`
	ID    string           `json:"id"`
	Items []transport.Item `json:"items"`
	Error string           `json:"error,omitempty"`
}

// SubRequest subscribes to a notification topic.
type SubRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Service string `json:"service"`
	Topic   string `json:"topic"`
}

// SubAck acknowledges a SubRequest.
type SubAck struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// ArchiveQuery requests up to Limit historical messages with a peer.
type ArchiveQuery struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Peer  string `json:"peer"`
	Limit int    `json:"limit"`
}

// ArchiveResult streams one historical message back for a query.
type ArchiveResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	MsgID   string `json:"msg_id,omitempty"`
	From    string `json:"from"`
	Body    string `json:"body,omitempty"`
	At      int64  `json:"at"` // unix milliseconds
	Inbound bool   `json:"inbound"`
}

// ArchiveComplete ends the result stream for a query.
type ArchiveComplete struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// TopicEvent is a push notification; Sessions is the optional inline
// payload for sessions:* topics.
type TopicEvent struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic"`
	Sessions json.RawMessage `json:"sessions,omitempty"`
}

// ChatSend delivers an outbound message.
type ChatSend struct {
	Type string `json:"type"`
	Peer string `json:"peer"`
	Body string `json:"body"`
}

// ChatAttach delivers an outbound attachment; Data is base64 on the wire.
type ChatAttach struct {
	Type string `json:"type"`
	Peer string `json:"peer"`
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// ChatRecv is a live inbound message.
type ChatRecv struct {
	Type  string `json:"type"`
	MsgID string `json:"msg_id,omitempty"`
	From  string `json:"from"`
	Body  string `json:"body"`
	At    int64  `json:"at"` // unix milliseconds
}

// ChatComposing is a typing notification.
type ChatComposing struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Composing bool   `json:"composing"`
}

// ErrorMsg reports a protocol error.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// decodeSessions parses the inline payload of a sessions:* topic event.
// A malformed payload is reported as an error so the caller can fall back
// to treating it as absent.
func decodeSessions(raw json.RawMessage) ([]transport.SessionDescriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []transport.SessionDescriptor
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode sessions payload: %w", err)
	}
	for _, sd := range out {
		if sd.Address == "" {
			return nil, fmt.Errorf("sessions payload entry missing address")
		}
	}
	return out, nil
}
