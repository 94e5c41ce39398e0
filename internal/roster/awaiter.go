package roster

import (
	"time"

	"github.com/ehrlich-b/switchboard/internal/runloop"
)

const (
	awaitAttempts  = 4
	awaitPollEvery = 1500 * time.Millisecond
	awaitCutoff    = 10 * time.Second
)

// awaiter watches for the session a dispatcher creates in response to an
// unaddressed send. It snapshots the known session ids on entry, polls the
// directory a bounded number of times, and reports the first id that was
// not in the snapshot. Manual selection changes reset it.
type awaiter struct {
	loop    *runloop.Loop
	refresh func(dispatcherID string)

	pollEvery time.Duration
	cutoff    time.Duration

	dispatcherID string // "" = idle
	snapshot     map[string]struct{}
	attempts     int
	poll         *time.Timer
	hardStop     *time.Timer
}

func newAwaiter(loop *runloop.Loop, refresh func(dispatcherID string)) *awaiter {
	return &awaiter{
		loop:      loop,
		refresh:   refresh,
		pollEvery: awaitPollEvery,
		cutoff:    awaitCutoff,
	}
}

func (a *awaiter) Awaiting() bool { return a.dispatcherID != "" }

// Begin enters the awaiting state for a dispatcher, snapshotting its
// currently known session ids.
func (a *awaiter) Begin(dispatcherID string, known map[string]struct{}) {
	a.Reset()
	a.dispatcherID = dispatcherID
	a.snapshot = make(map[string]struct{}, len(known))
	for id := range known {
		a.snapshot[id] = struct{}{}
	}
	a.attempts = awaitAttempts
	a.poll = a.loop.After(a.pollEvery, a.tick)
	a.hardStop = a.loop.After(a.cutoff, a.Reset)
}

func (a *awaiter) tick() {
	if a.dispatcherID == "" {
		return
	}
	if a.attempts <= 0 {
		a.Reset()
		return
	}
	a.attempts--
	a.refresh(a.dispatcherID)
	a.poll = a.loop.After(a.pollEvery, a.tick)
}

// Observe checks a fresh session-list update for an id outside the
// snapshot. Finding one returns it and resets the machine to idle.
func (a *awaiter) Observe(dispatcherID string, appeared []string) (string, bool) {
	if a.dispatcherID == "" || a.dispatcherID != dispatcherID {
		return "", false
	}
	for _, id := range appeared {
		if _, old := a.snapshot[id]; !old {
			a.Reset()
			return id, true
		}
	}
	return "", false
}

// Reset returns to idle and disarms the timers.
func (a *awaiter) Reset() {
	if a.poll != nil {
		a.poll.Stop()
		a.poll = nil
	}
	if a.hardStop != nil {
		a.hardStop.Stop()
		a.hardStop = nil
	}
	a.dispatcherID = ""
	a.snapshot = nil
	a.attempts = 0
}
