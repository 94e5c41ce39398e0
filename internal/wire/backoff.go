package wire

import "time"

// retryDelay spaces reconnect attempts. Each Next doubles the wait,
// starting at floor and saturating at ceil; Reset restarts the ramp after
// a connection that actually got established.
type retryDelay struct {
	floor time.Duration
	ceil  time.Duration
	next  time.Duration
}

func (r *retryDelay) Next() time.Duration {
	if r.next == 0 {
		r.next = r.floor
	}
	d := r.next
	if d >= r.ceil {
		d = r.ceil
		r.next = r.ceil
	} else {
		r.next = d * 2
	}
	return d
}

func (r *retryDelay) Reset() { r.next = 0 }
