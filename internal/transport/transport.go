// Package transport defines the contract between the sync engine and the
// protocol-engine collaborator: directory discovery, topic subscription,
// archive queries and outbound sends. The engine never blocks on these;
// results come back through callbacks that the assembly layer marshals
// onto the run loop.
package transport

import "time"

// Item is one child of a directory node as returned by a discovery query.
// Node carries the entry's marker tag ("order:3;closed" and friends).
type Item struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	Node        string `json:"node,omitempty"`
}

// SessionDescriptor is the inline payload a sessions:* push notification
// may carry, sparing the engine a discovery round trip.
type SessionDescriptor struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	Closed      bool   `json:"closed,omitempty"`
	Group       bool   `json:"group,omitempty"`
}

// TopicEvent is one push notification. Payload is nil when the
// notification carried no inline descriptors.
type TopicEvent struct {
	Topic   string
	Payload []SessionDescriptor
}

// ArchiveMessage is one result row of an archive query.
type ArchiveMessage struct {
	ID      string
	From    string
	Body    string
	At      time.Time
	Inbound bool
}

// Discoverer lists the children of a directory node.
type Discoverer interface {
	DiscoverItems(service, node string, fn func(items []Item, err error))
}

// Subscriber requests membership on a notification topic.
type Subscriber interface {
	Subscribe(service, topic string, done func(err error))
}

// ArchiveQuerier starts an archive query for history with a peer. Results
// stream back tagged with queryID through the handler the assembly wires;
// the error return covers only submission failures.
type ArchiveQuerier interface {
	QueryArchive(queryID, peer string, limit int) error
}

// Sender delivers outbound messages and attachments.
type Sender interface {
	SendMessage(peer, body string) error
	SendAttachment(peer, name string, data []byte) error
}

// Conn is the full collaborator surface the engine consumes.
type Conn interface {
	Discoverer
	Subscriber
	ArchiveQuerier
	Sender
}
