package archive

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ehrlich-b/switchboard/internal/runloop"
	"github.com/ehrlich-b/switchboard/internal/transport"
)

type issuedQuery struct {
	id    string
	peer  string
	limit int
}

type fakeQuerier struct {
	queries []issuedQuery
	failAll bool
}

func (f *fakeQuerier) QueryArchive(queryID, peer string, limit int) error {
	if f.failAll {
		return errors.New("not connected")
	}
	f.queries = append(f.queries, issuedQuery{id: queryID, peer: peer, limit: limit})
	return nil
}

type recordingSink struct {
	history map[string][]transport.ArchiveMessage
	probes  map[string][]time.Time
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		history: make(map[string][]transport.ArchiveMessage),
		probes:  make(map[string][]time.Time),
	}
}

func (r *recordingSink) HistoryMessage(peer string, m transport.ArchiveMessage) {
	r.history[peer] = append(r.history[peer], m)
}

func (r *recordingSink) ProbeActivity(peer string, at time.Time) {
	r.probes[peer] = append(r.probes[peer], at)
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeQuerier, *recordingSink, *runloop.Loop) {
	t.Helper()
	loop := runloop.New()
	q := &fakeQuerier{}
	sink := newRecordingSink()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(log, loop, q, sink, Options{
		HistoryLimit: 40,
		ProbeLimit:   1,
		QueryRate:    1e9, // tests drive the queues, not the throttle
	})
	return s, q, sink, loop
}

func TestEnsureHistoryIsIdempotent(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)

	s.EnsureHistory("peer@x")
	s.EnsureHistory("peer@x")
	s.EnsureHistory("peer@x")
	if len(q.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(q.queries))
	}
	if q.queries[0].peer != "peer@x" || q.queries[0].limit != 40 {
		t.Fatalf("query = %+v", q.queries[0])
	}

	// Done targets are not refetched.
	s.HandleComplete(q.queries[0].id, nil)
	s.EnsureHistory("peer@x")
	if len(q.queries) != 1 {
		t.Fatalf("queries after done = %d, want 1", len(q.queries))
	}
}

func TestHistoryQueueIsSequential(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)

	s.EnsureHistory("a@x")
	s.EnsureHistory("b@x")
	s.EnsureHistory("c@x")
	if len(q.queries) != 1 {
		t.Fatalf("queries = %d, want 1 in flight", len(q.queries))
	}

	s.HandleComplete(q.queries[0].id, nil)
	if len(q.queries) != 2 {
		t.Fatalf("queries = %d, want 2 after first completion", len(q.queries))
	}
	if q.queries[1].peer != "b@x" {
		t.Fatalf("second query peer = %s, want b@x (submission order)", q.queries[1].peer)
	}

	s.HandleComplete(q.queries[1].id, nil)
	if len(q.queries) != 3 || q.queries[2].peer != "c@x" {
		t.Fatalf("third query = %+v", q.queries)
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)

	s.EnsureHistory("a@x")
	s.EnsureProbe("a@x")
	if len(q.queries) != 2 {
		t.Fatalf("queries = %d, want one per queue", len(q.queries))
	}
	if q.queries[1].limit != 1 {
		t.Fatalf("probe limit = %d, want 1", q.queries[1].limit)
	}
}

func TestFailedQueryStaysEligible(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)

	s.EnsureHistory("a@x")
	s.HandleComplete(q.queries[0].id, errors.New("item-not-found"))

	// The queue advanced and the target may be ensured again.
	s.EnsureHistory("a@x")
	if len(q.queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(q.queries))
	}
}

func TestSubmissionFailureStaysEligible(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)

	q.failAll = true
	s.EnsureHistory("a@x")
	if len(q.queries) != 0 {
		t.Fatalf("queries = %d, want 0", len(q.queries))
	}

	q.failAll = false
	s.EnsureHistory("a@x")
	if len(q.queries) != 1 {
		t.Fatalf("queries = %d, want 1 after retry", len(q.queries))
	}
}

func TestResultsRouteToTheRightQueueKind(t *testing.T) {
	s, q, sink, _ := newTestScheduler(t)

	s.EnsureHistory("a@x")
	s.EnsureProbe("b@x")

	histID, probeID := q.queries[0].id, q.queries[1].id
	s.HandleMessage(histID, transport.ArchiveMessage{ID: "m1", Body: "hello", At: time.Unix(10, 0)})
	s.HandleMessage(probeID, transport.ArchiveMessage{At: time.Unix(20, 0)})

	if len(sink.history["a@x"]) != 1 || sink.history["a@x"][0].ID != "m1" {
		t.Fatalf("history deliveries = %+v", sink.history)
	}
	if len(sink.probes["b@x"]) != 1 || !sink.probes["b@x"][0].Equal(time.Unix(20, 0)) {
		t.Fatalf("probe deliveries = %+v", sink.probes)
	}
}

func TestLateResultWithinGraceStillRoutes(t *testing.T) {
	s, q, sink, _ := newTestScheduler(t)

	s.EnsureHistory("a@x")
	id := q.queries[0].id
	s.HandleComplete(id, nil)

	// The route survives completion for the grace period.
	s.HandleMessage(id, transport.ArchiveMessage{ID: "late", At: time.Unix(5, 0)})
	if len(sink.history["a@x"]) != 1 {
		t.Fatalf("late result not routed: %+v", sink.history)
	}
}

func TestRouteExpiresAfterGrace(t *testing.T) {
	loop := runloop.New()
	q := &fakeQuerier{}
	sink := newRecordingSink()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(log, loop, q, sink, Options{
		QueryRate: 1e9,
		Grace:     5 * time.Millisecond,
	})

	s.EnsureHistory("a@x")
	id := q.queries[0].id
	s.HandleComplete(id, nil)

	time.Sleep(30 * time.Millisecond)
	loop.Flush()
	s.HandleMessage(id, transport.ArchiveMessage{ID: "too-late", At: time.Unix(5, 0)})
	if len(sink.history["a@x"]) != 0 {
		t.Fatalf("expired route still delivered: %+v", sink.history)
	}
}

func TestWarmTracksHistoryBackfill(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)
	var transitions []bool
	s.OnWarm(func(w bool) { transitions = append(transitions, w) })

	s.EnsureHistory("a@x")
	s.EnsureHistory("b@x")
	if !s.Warm() {
		t.Fatal("expected warm during backfill")
	}

	s.HandleComplete(q.queries[0].id, nil)
	if !s.Warm() {
		t.Fatal("still one target queued, expected warm")
	}
	s.HandleComplete(q.queries[1].id, nil)
	if s.Warm() {
		t.Fatal("backfill drained, expected not warm")
	}

	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("transitions = %v, want [true false]", transitions)
	}

	// Probes never assert warm-up.
	s.EnsureProbe("c@x")
	if s.Warm() {
		t.Fatal("probe queue must not assert warm")
	}
}

func TestForgetReopensDoneTarget(t *testing.T) {
	s, q, _, _ := newTestScheduler(t)

	s.EnsureHistory("a@x")
	s.HandleComplete(q.queries[0].id, nil)
	s.Forget("a@x")
	s.EnsureHistory("a@x")
	if len(q.queries) != 2 {
		t.Fatalf("queries = %d, want 2 after forget", len(q.queries))
	}
}
