// Package archive schedules history prefetch and recency-probe queries
// against the server-side message archive. Two independent FIFO queues run
// strictly in submission order, deduplicate targets, throttle outgoing
// queries, and route streamed results back to the owning conversation via
// a per-query token.
package archive

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/switchboard/internal/runloop"
	"github.com/ehrlich-b/switchboard/internal/transport"
)

// Kind distinguishes the two queues.
type Kind int

const (
	History Kind = iota // recent context, large result limit
	Probe               // newest timestamp only, tiny result limit
)

func (k Kind) String() string {
	if k == Probe {
		return "probe"
	}
	return "history"
}

// queriesPerSecond caps outgoing archive queries per queue. Opening a
// dispatcher with dozens of sessions drains the backlog at this pace
// instead of bursting at the archive service.
const queriesPerSecond = 5

// Sink receives routed query results on the run loop.
type Sink interface {
	HistoryMessage(peer string, m transport.ArchiveMessage)
	ProbeActivity(peer string, at time.Time)
}

// Options sizes the two queues. Zero values take the defaults; all values
// are clamped by the config layer before they get here.
type Options struct {
	HistoryLimit   int // results per history query
	ProbeLimit     int // results per probe query
	HistoryWorkers int // concurrent history queries
	ProbeWorkers   int // concurrent probe queries
	QueryRate      float64
	Grace          time.Duration
}

// Scheduler owns both queues and the query→conversation route map.
// Confined to the run loop.
type Scheduler struct {
	log     *slog.Logger
	loop    *runloop.Loop
	querier transport.ArchiveQuerier
	sink    Sink

	history *queue
	probe   *queue

	routes map[string]route
	grace  time.Duration

	warm   bool
	onWarm func(warm bool)
}

type route struct {
	peer string
	kind Kind
}

type queue struct {
	kind     Kind
	limit    int
	workers  int
	queued   []string
	members  map[string]struct{} // queued set
	inflight map[string]struct{}
	done     map[string]struct{}
	limiter  *rate.Limiter
	retry    *time.Timer // armed while rate-limited
}

func newQueue(kind Kind, limit, workers int, qps float64) *queue {
	if workers < 1 {
		workers = 1
	}
	return &queue{
		kind:     kind,
		limit:    limit,
		workers:  workers,
		members:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		done:     make(map[string]struct{}),
		limiter:  rate.NewLimiter(rate.Limit(qps), workers),
	}
}

func NewScheduler(log *slog.Logger, loop *runloop.Loop, querier transport.ArchiveQuerier, sink Sink, opts Options) *Scheduler {
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = 50
	}
	if opts.ProbeLimit == 0 {
		opts.ProbeLimit = 1
	}
	if opts.QueryRate == 0 {
		opts.QueryRate = queriesPerSecond
	}
	if opts.Grace == 0 {
		opts.Grace = 2 * time.Second
	}
	return &Scheduler{
		log:     log,
		loop:    loop,
		querier: querier,
		sink:    sink,
		history: newQueue(History, opts.HistoryLimit, opts.HistoryWorkers, opts.QueryRate),
		probe:   newQueue(Probe, opts.ProbeLimit, opts.ProbeWorkers, opts.QueryRate),
		routes:  make(map[string]route),
		grace:   opts.Grace,
	}
}

// OnWarm registers the warm-up flag observer. The flag is asserted while
// the history queue has queued or in-flight work; the resort scheduler
// reads it to hold list reordering during bulk backfill.
func (s *Scheduler) OnWarm(fn func(warm bool)) { s.onWarm = fn }

// Warm reports whether history backfill is still in flight.
func (s *Scheduler) Warm() bool {
	return len(s.history.queued) > 0 || len(s.history.inflight) > 0
}

// EnsureHistory queues a history prefetch for peer. Idempotent: a no-op if
// the peer is queued, in flight, or already fetched.
func (s *Scheduler) EnsureHistory(peer string) { s.ensure(s.history, peer) }

// EnsureProbe queues a recency probe for peer. Idempotent like
// EnsureHistory.
func (s *Scheduler) EnsureProbe(peer string) { s.ensure(s.probe, peer) }

func (s *Scheduler) ensure(q *queue, peer string) {
	if _, ok := q.members[peer]; ok {
		return
	}
	if _, ok := q.inflight[peer]; ok {
		return
	}
	if _, ok := q.done[peer]; ok {
		return
	}
	q.queued = append(q.queued, peer)
	q.members[peer] = struct{}{}
	s.updateWarm()
	s.pump(q)
}

// pump issues queued queries while worker slots and the rate limiter allow.
func (s *Scheduler) pump(q *queue) {
	for len(q.inflight) < q.workers && len(q.queued) > 0 {
		res := q.limiter.Reserve()
		if d := res.Delay(); d > 0 {
			res.Cancel()
			if q.retry == nil {
				var t *time.Timer
				t = s.loop.After(d, func() {
					if q.retry != t {
						return
					}
					q.retry = nil
					s.pump(q)
				})
				q.retry = t
			}
			return
		}

		peer := q.queued[0]
		q.queued = q.queued[1:]
		delete(q.members, peer)
		q.inflight[peer] = struct{}{}

		queryID := uuid.NewString()
		s.routes[queryID] = route{peer: peer, kind: q.kind}
		if err := s.querier.QueryArchive(queryID, peer, q.limit); err != nil {
			// Submission failure: drop the route, leave the peer
			// eligible for a future ensure call.
			delete(s.routes, queryID)
			delete(q.inflight, peer)
			s.log.Warn("archive query failed", "kind", q.kind.String(), "peer", peer, "err", err)
			continue
		}
		s.log.Debug("archive query issued", "kind", q.kind.String(), "peer", peer, "query", queryID)
	}
	s.updateWarm()
}

// HandleMessage routes one streamed archive result to the ledger sink.
// Results with an unknown query id (routes expire a grace period after
// completion) are dropped.
func (s *Scheduler) HandleMessage(queryID string, m transport.ArchiveMessage) {
	rt, ok := s.routes[queryID]
	if !ok {
		s.log.Debug("archive result for unknown query", "query", queryID)
		return
	}
	switch rt.kind {
	case Probe:
		s.sink.ProbeActivity(rt.peer, m.At)
	default:
		s.sink.HistoryMessage(rt.peer, m)
	}
}

// HandleComplete finishes a query. Success marks the peer done; failure
// leaves it eligible for a future ensure call. Either way the queue
// advances. The route stays alive for a short grace period to tolerate
// results that trail the completion acknowledgment.
func (s *Scheduler) HandleComplete(queryID string, qErr error) {
	rt, ok := s.routes[queryID]
	if !ok {
		return
	}
	q := s.queueFor(rt.kind)
	delete(q.inflight, rt.peer)
	if qErr == nil {
		q.done[rt.peer] = struct{}{}
	} else {
		s.log.Warn("archive query error", "kind", rt.kind.String(), "peer", rt.peer, "err", qErr)
	}
	s.loop.After(s.grace, func() {
		delete(s.routes, queryID)
	})
	s.updateWarm()
	s.pump(q)
}

// Forget drops a peer from the done sets so the next ensure call fetches
// again. Used when a session moves dispatchers.
func (s *Scheduler) Forget(peer string) {
	delete(s.history.done, peer)
	delete(s.probe.done, peer)
}

func (s *Scheduler) queueFor(k Kind) *queue {
	if k == Probe {
		return s.probe
	}
	return s.history
}

func (s *Scheduler) updateWarm() {
	w := s.Warm()
	if w == s.warm {
		return
	}
	s.warm = w
	if s.onWarm != nil {
		s.onWarm(w)
	}
}
