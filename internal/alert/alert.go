// Package alert posts out-of-band push notifications through ntfy.sh (or
// a self-hosted ntfy server) when a message arrives for a conversation
// that is not on screen. The engine keeps running if the alert endpoint
// is down; delivery is best effort.
package alert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const bodyLimit = 120

type Notifier struct {
	url   string
	token string
	log   *slog.Logger
}

// New builds a notifier. Topic can be a bare topic name (expanded to
// https://ntfy.sh/{topic}) or a full URL. An empty topic returns nil; a
// nil Notifier drops every alert.
func New(log *slog.Logger, topic, token string) *Notifier {
	if topic == "" {
		return nil
	}
	url := topic
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		url = "https://ntfy.sh/" + topic
	}
	return &Notifier{url: url, token: token, log: log}
}

// MessageWaiting announces an inbound message for an inactive
// conversation. Synchronous; callers that must not block run it in a
// goroutine.
func (n *Notifier) MessageWaiting(name, body string) {
	if n == nil {
		return
	}
	if name == "" {
		name = "a conversation"
	}
	n.post("Message from "+name, truncate(body), "default", "speech_balloon")
}

// Test sends a verification notification and reports the result.
func (n *Notifier) Test() error {
	if n == nil {
		return fmt.Errorf("alerts are not configured")
	}
	return n.post("switchboard test", "Push alerts are working!", "default", "test_tube")
}

func (n *Notifier) post(title, body, priority, tags string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewBufferString(body))
	if err != nil {
		n.log.Warn("alert build request failed", "err", err)
		return err
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		n.log.Warn("alert post failed", "err", err)
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("alert endpoint: HTTP %d", resp.StatusCode)
		n.log.Warn("alert rejected", "err", err)
		return err
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= bodyLimit {
		return s
	}
	return s[:bodyLimit] + "…"
}
