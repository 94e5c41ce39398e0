package roster

import (
	"time"

	"github.com/ehrlich-b/switchboard/internal/runloop"
)

const (
	resortDebounce    = 250 * time.Millisecond
	switchSuppression = time.Second
)

// resortScheduler debounces recency re-sorting of the visible session
// list. A resort is held entirely while the list is loading, while the
// archive warm-up flag is set, or within the post-switch suppression
// window; one converging resort is scheduled for when the window expires.
type resortScheduler struct {
	loop        *runloop.Loop
	debounce    time.Duration
	suppression time.Duration

	blocked func() bool // loading or warm-up
	fire    func()
	now     func() time.Time

	suppressedUntil time.Time
	pending         *time.Timer
	converge        *time.Timer
}

func newResortScheduler(loop *runloop.Loop, blocked func() bool, fire func()) *resortScheduler {
	return &resortScheduler{
		loop:        loop,
		debounce:    resortDebounce,
		suppression: switchSuppression,
		blocked:     blocked,
		fire:        fire,
		now:         time.Now,
	}
}

func (r *resortScheduler) held() bool {
	return r.blocked() || r.now().Before(r.suppressedUntil)
}

// Schedule requests a resort after the debounce delay. Rescheduling
// cancels the prior pending timer before arming a new one. The callback
// checks that its own handle is still current: Stop cannot recall a timer
// that already fired and posted onto the loop.
func (r *resortScheduler) Schedule() {
	if r.pending != nil {
		r.pending.Stop()
	}
	var t *time.Timer
	t = r.loop.After(r.debounce, func() {
		if r.pending != t {
			return
		}
		r.pending = nil
		if r.held() {
			return
		}
		r.fire()
	})
	r.pending = t
}

// SuppressSwitch opens the post-switch suppression window and arms one
// resort for when it expires, so the list converges even with no further
// ledger activity.
func (r *resortScheduler) SuppressSwitch() {
	r.suppressedUntil = r.now().Add(r.suppression)
	if r.converge != nil {
		r.converge.Stop()
	}
	var t *time.Timer
	t = r.loop.After(r.suppression, func() {
		if r.converge != t {
			return
		}
		r.converge = nil
		if r.blocked() {
			// Warm-up or loading still holds the list; those paths
			// fire their own resort when they clear.
			return
		}
		r.fire()
	})
	r.converge = t
}
