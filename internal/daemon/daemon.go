// Package daemon assembles the sync engine: store, ledger, run loop,
// archive scheduler, subscription manager, roster cache and wire client,
// with every network callback marshaled onto the run loop.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ehrlich-b/switchboard/internal/alert"
	"github.com/ehrlich-b/switchboard/internal/archive"
	"github.com/ehrlich-b/switchboard/internal/config"
	"github.com/ehrlich-b/switchboard/internal/ledger"
	"github.com/ehrlich-b/switchboard/internal/roster"
	"github.com/ehrlich-b/switchboard/internal/runloop"
	"github.com/ehrlich-b/switchboard/internal/store"
	"github.com/ehrlich-b/switchboard/internal/topics"
	"github.com/ehrlich-b/switchboard/internal/transport"
	"github.com/ehrlich-b/switchboard/internal/wire"
)

// Run builds the engine from cfg and runs it until a signal or a fatal
// connection error. sink receives roster events on the engine loop.
// Embedders drive selection and sends by posting roster.Cache calls onto
// the loop the same way the wire callbacks below do.
func Run(cfg *config.Config, log *slog.Logger, sink roster.Sink) error {
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	loop := runloop.New()
	led := ledger.New()
	hydrate(s, led, log)

	client := &wire.Client{
		RelayURL: cfg.Relay.URL,
		Token:    cfg.Relay.Token,
		Log:      log,
	}

	tm := topics.NewManager(log, cfg.Directory.Notify, func(service, topic string, done func(error)) {
		client.Subscribe(service, topic, func(err error) {
			loop.Post(func() { done(err) })
		})
	})

	persist := func(conversation string, m ledger.Message) {
		err := s.AppendMessage(&store.Message{
			ID:             m.ID,
			ConversationID: conversation,
			Sender:         m.From,
			Body:           m.Body,
			At:             m.At,
			Inbound:        m.Inbound,
		})
		if err != nil {
			log.Warn("persist message failed", "conversation", conversation, "err", err)
		}
	}
	persistUnread := func(conversation string, unread int) {
		if err := s.SetUnread(conversation, unread); err != nil {
			log.Warn("persist unread failed", "conversation", conversation, "err", err)
		}
	}

	var cache *roster.Cache
	sched := archive.NewScheduler(log, loop, client, sinkFunc{
		history: func(peer string, m transport.ArchiveMessage) { cache.HistoryMessage(peer, m) },
		probe:   func(peer string, at time.Time) { cache.ProbeActivity(peer, at) },
	}, archive.Options{
		HistoryLimit:   cfg.Archive.HistoryLimit,
		ProbeLimit:     cfg.Archive.ProbeLimit,
		HistoryWorkers: cfg.Archive.HistoryWorkers,
		ProbeWorkers:   cfg.Archive.ProbeWorkers,
	})
	cache = roster.New(log, loop, cfg.Directory.Service, client, client, tm, sched, led, sink, persist, persistUnread)

	client.OnTopicEvent = func(ev transport.TopicEvent) {
		loop.Post(func() { cache.HandleTopicEvent(ev) })
	}
	notifier := alert.New(log, cfg.Alerts.Topic, cfg.Alerts.Token)

	client.OnChatMessage = func(from, msgID, body string, at time.Time) {
		loop.Post(func() {
			if cache.Target().Address != from {
				go notifier.MessageWaiting(from, body)
			}
			cache.HandleLiveMessage(from, ledger.Message{
				ID:      msgID,
				From:    from,
				Body:    body,
				At:      at,
				Inbound: true,
			})
		})
	}
	client.OnComposing = func(from string, composing bool) {
		loop.Post(func() { cache.HandleComposing(from, composing) })
	}
	client.OnArchiveMessage = func(queryID string, m transport.ArchiveMessage) {
		loop.Post(func() { sched.HandleMessage(queryID, m) })
	}
	client.OnArchiveComplete = func(queryID string, err error) {
		loop.Post(func() { sched.HandleComplete(queryID, err) })
	}
	client.OnStateChange = func(state string, err error) {
		if state == "connected" {
			loop.Post(func() {
				// Subscriptions died with the previous connection.
				tm.Resubscribe()
				cache.RefreshAll()
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 2)

	go func() {
		errCh <- loop.Run(ctx)
	}()
	go func() {
		errCh <- client.Run(ctx)
	}()

	log.Info("switchboard engine started", "relay", cfg.Relay.URL, "directory", cfg.Directory.Service)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		time.Sleep(100 * time.Millisecond)
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			cancel()
			return fmt.Errorf("engine error: %w", err)
		}
	}

	return nil
}

// hydrate preloads the ledger's recency and unread indexes from the
// store so sorting is correct before the first archive round trip.
func hydrate(s *store.Store, led *ledger.Ledger, log *slog.Logger) {
	convs, err := s.ListConversations()
	if err != nil {
		log.Warn("ledger hydration failed", "err", err)
		return
	}
	for _, c := range convs {
		if !c.LastActivity.IsZero() && c.LastActivity.UnixMilli() > 0 {
			led.Touch(c.ID, c.LastActivity)
		}
		led.SetUnread(c.ID, c.Unread)
		msgs, err := s.RecentMessages(c.ID, 50)
		if err != nil {
			continue
		}
		for _, m := range msgs {
			led.Append(c.ID, ledger.Message{
				ID:      m.ID,
				From:    m.Sender,
				Body:    m.Body,
				At:      m.At,
				Inbound: m.Inbound,
			})
		}
	}
	log.Debug("ledger hydrated", "conversations", len(convs))
}

// sinkFunc adapts two closures to archive.Sink; the roster cache is built
// after the scheduler, so the closures capture it late.
type sinkFunc struct {
	history func(peer string, m transport.ArchiveMessage)
	probe   func(peer string, at time.Time)
}

func (s sinkFunc) HistoryMessage(peer string, m transport.ArchiveMessage) { s.history(peer, m) }
func (s sinkFunc) ProbeActivity(peer string, at time.Time)                { s.probe(peer, at) }
