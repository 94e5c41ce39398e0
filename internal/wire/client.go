// Package wire is the default protocol-engine collaborator: a WebSocket
// client speaking JSON envelopes to the relay, implementing the discovery,
// subscription, archive and send surfaces the sync engine consumes. All
// handler callbacks fire on the read-loop goroutine; the assembly layer
// marshals them onto the engine run loop.
package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ehrlich-b/switchboard/internal/transport"
)

// ErrAuthRejected is returned when the relay rejects the handshake with 401.
var ErrAuthRejected = errors.New("relay rejected authentication (401)")

var errNotConnected = errors.New("not connected")

const (
	writeTimeout      = 10 * time.Second
	reconnectBase     = time.Second
	maxReconnectDelay = 10 * time.Second
)

// Client is an outbound WebSocket client for the relay.
type Client struct {
	RelayURL string // e.g. "wss://relay.example.net/ws"
	Token    string
	Log      *slog.Logger

	OnTopicEvent      func(ev transport.TopicEvent)
	OnChatMessage     func(from, msgID, body string, at time.Time)
	OnComposing       func(from string, composing bool)
	OnArchiveMessage  func(queryID string, m transport.ArchiveMessage)
	OnArchiveComplete func(queryID string, err error)
	OnStateChange     func(state string, err error)

	mu           sync.Mutex
	conn         *websocket.Conn
	discoPending map[string]func(items []transport.Item, err error)
	subPending   map[string]func(err error)
}

// Run connects to the relay and processes messages until ctx is
// cancelled, reconnecting with exponential backoff. Returns
// ErrAuthRejected when the relay refuses the token.
func (c *Client) Run(ctx context.Context) error {
	c.notifyState("connecting", nil)
	backoff := &retryDelay{floor: reconnectBase, ceil: maxReconnectDelay}
	for {
		connected, err := c.connectAndServe(ctx)
		c.failPending(err)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if isAuthError(err) {
			c.notifyState("auth_failed", err)
			return ErrAuthRejected
		}
		if connected {
			backoff.Reset()
		}
		delay := backoff.Next()
		c.notifyState("disconnected", err)
		c.Log.Warn("relay disconnected", "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notifyState("connecting", nil)
	}
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

// isAuthError returns true if the error indicates a 401 handshake rejection.
func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "401")
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{
		HTTPHeader: make(map[string][]string),
	}
	if c.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.Token)
	}

	conn, _, dialErr := websocket.Dial(ctx, c.RelayURL, opts)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	conn.SetReadLimit(512 * 1024)
	c.mu.Lock()
	c.conn = conn
	if c.discoPending == nil {
		c.discoPending = make(map[string]func([]transport.Item, error))
		c.subPending = make(map[string]func(error))
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.CloseNow()
	}()
	connected = true

	if err := c.writeJSON(ctx, Hello{Type: TypeHello, Token: c.Token}); err != nil {
		return connected, fmt.Errorf("hello: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Log.Warn("bad message", "err", err)
			continue
		}

		switch env.Type {
		case TypeWelcome:
			var msg Welcome
			json.Unmarshal(data, &msg)
			c.Log.Info("connected to relay", "address", msg.Address)
			c.notifyState("connected", nil)

		case TypeDiscoResult:
			var msg DiscoResult
			if err := json.Unmarshal(data, &msg); err != nil {
				c.Log.Warn("bad disco.result", "err", err)
				continue
			}
			fn := c.takeDisco(msg.ID)
			if fn == nil {
				continue
			}
			if msg.Error != "" {
				fn(nil, errors.New(msg.Error))
			} else {
				fn(msg.Items, nil)
			}

		case TypeSubAck:
			var msg SubAck
			if err := json.Unmarshal(data, &msg); err != nil {
				c.Log.Warn("bad sub.ack", "err", err)
				continue
			}
			fn := c.takeSub(msg.ID)
			if fn == nil {
				continue
			}
			if msg.Error != "" {
				fn(errors.New(msg.Error))
			} else {
				fn(nil)
			}

		case TypeArchiveResult:
			var msg ArchiveResult
			if err := json.Unmarshal(data, &msg); err != nil {
				c.Log.Warn("bad archive.result", "err", err)
				continue
			}
			if c.OnArchiveMessage != nil {
				c.OnArchiveMessage(msg.ID, transport.ArchiveMessage{
					ID:      msg.MsgID,
					From:    msg.From,
					Body:    msg.Body,
					At:      time.UnixMilli(msg.At),
					Inbound: msg.Inbound,
				})
			}

		case TypeArchiveComplete:
			var msg ArchiveComplete
			if err := json.Unmarshal(data, &msg); err != nil {
				c.Log.Warn("bad archive.complete", "err", err)
				continue
			}
			if c.OnArchiveComplete != nil {
				var qErr error
				if msg.Error != "" {
					qErr = errors.New(msg.Error)
				}
				c.OnArchiveComplete(msg.ID, qErr)
			}

		case TypeTopicEvent:
			var msg TopicEvent
			if err := json.Unmarshal(data, &msg); err != nil {
				c.Log.Warn("bad topic.event", "err", err)
				continue
			}
			payload, err := decodeSessions(msg.Sessions)
			if err != nil {
				// Malformed payload counts as absent; the roster
				// falls back to a discovery re-query.
				c.Log.Warn("bad sessions payload", "topic", msg.Topic, "err", err)
				payload = nil
			}
			if c.OnTopicEvent != nil {
				c.OnTopicEvent(transport.TopicEvent{Topic: msg.Topic, Payload: payload})
			}

		case TypeChatRecv:
			var msg ChatRecv
			if err := json.Unmarshal(data, &msg); err != nil {
				c.Log.Warn("bad chat.recv", "err", err)
				continue
			}
			if c.OnChatMessage != nil {
				c.OnChatMessage(msg.From, msg.MsgID, msg.Body, time.UnixMilli(msg.At))
			}

		case TypeChatComposing:
			var msg ChatComposing
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if c.OnComposing != nil {
				c.OnComposing(msg.From, msg.Composing)
			}

		case TypeError:
			var msg ErrorMsg
			json.Unmarshal(data, &msg)
			c.Log.Warn("relay error", "message", msg.Message)

		default:
			c.Log.Debug("unknown message type", "type", env.Type)
		}
	}
}

// DiscoverItems implements transport.Discoverer.
func (c *Client) DiscoverItems(service, node string, fn func(items []transport.Item, err error)) {
	id := uuid.NewString()
	c.mu.Lock()
	if c.discoPending == nil {
		c.discoPending = make(map[string]func([]transport.Item, error))
	}
	c.discoPending[id] = fn
	c.mu.Unlock()

	err := c.writeJSON(context.Background(), DiscoQuery{
		Type:    TypeDiscoQuery,
		ID:      id,
		Service: service,
		Node:    node,
	})
	if err != nil {
		if fn := c.takeDisco(id); fn != nil {
			fn(nil, err)
		}
	}
}

// Subscribe implements transport.Subscriber.
func (c *Client) Subscribe(service, topic string, done func(err error)) {
	id := uuid.NewString()
	c.mu.Lock()
	if c.subPending == nil {
		c.subPending = make(map[string]func(error))
	}
	c.subPending[id] = done
	c.mu.Unlock()

	err := c.writeJSON(context.Background(), SubRequest{
		Type:    TypeSubRequest,
		ID:      id,
		Service: service,
		Topic:   topic,
	})
	if err != nil {
		if fn := c.takeSub(id); fn != nil {
			fn(err)
		}
	}
}

// QueryArchive implements transport.ArchiveQuerier.
func (c *Client) QueryArchive(queryID, peer string, limit int) error {
	return c.writeJSON(context.Background(), ArchiveQuery{
		Type:  TypeArchiveQuery,
		ID:    queryID,
		Peer:  peer,
		Limit: limit,
	})
}

// SendMessage implements transport.Sender.
func (c *Client) SendMessage(peer, body string) error {
	return c.writeJSON(context.Background(), ChatSend{Type: TypeChatSend, Peer: peer, Body: body})
}

// SendAttachment implements transport.Sender.
func (c *Client) SendAttachment(peer, name string, data []byte) error {
	return c.writeJSON(context.Background(), ChatAttach{Type: TypeChatAttach, Peer: peer, Name: name, Data: data})
}

func (c *Client) takeDisco(id string) func([]transport.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn := c.discoPending[id]
	delete(c.discoPending, id)
	return fn
}

func (c *Client) takeSub(id string) func(error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn := c.subPending[id]
	delete(c.subPending, id)
	return fn
}

// failPending answers every in-flight request with err so the engine's
// dedup sets unwind; targets stay eligible for a retry after reconnect.
func (c *Client) failPending(err error) {
	if err == nil {
		err = errNotConnected
	}
	c.mu.Lock()
	disco := c.discoPending
	subs := c.subPending
	c.discoPending = make(map[string]func([]transport.Item, error))
	c.subPending = make(map[string]func(error))
	c.mu.Unlock()
	for _, fn := range disco {
		fn(nil, err)
	}
	for _, fn := range subs {
		fn(err)
	}
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
