// Package runloop provides the single goroutine that owns all sync-engine
// state. Network callbacks and timer callbacks are posted here instead of
// mutating state from their own goroutines.
package runloop

import (
	"context"
	"sync"
	"time"
)

// Loop is an unbounded FIFO of funcs drained by one goroutine.
//
// Thread-safety is for posters only; everything a posted func touches is
// confined to the draining goroutine.
type Loop struct {
	mu     sync.Mutex
	fns    []func()
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups
}

func New() *Loop {
	return &Loop{
		fns:    make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Post enqueues fn to run on the loop goroutine.
// Safe to call from any goroutine. Posts after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.fns = append(l.fns, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// After arms a timer whose callback is posted back onto the loop.
// The returned timer can be stopped to cancel-and-rearm (the pending
// timer handle pattern used by the debounce sites).
func (l *Loop) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Run drains posted funcs until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := l.take()
			if !ok {
				break
			}
			fn()
		}
		select {
		case <-ctx.Done():
			l.close()
			return ctx.Err()
		case <-l.signal:
		}
	}
}

// Flush runs every posted func on the calling goroutine until the queue
// is empty. Only for tests and single-threaded harnesses; never call it
// concurrently with Run.
func (l *Loop) Flush() {
	for {
		fn, ok := l.take()
		if !ok {
			return
		}
		fn()
	}
}

func (l *Loop) take() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fns) == 0 {
		return nil, false
	}
	fn := l.fns[0]
	l.fns[0] = nil
	if len(l.fns) == 1 {
		l.fns = l.fns[:0]
	} else {
		l.fns = l.fns[1:]
	}
	return fn, true
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.fns = nil
	l.mu.Unlock()
}
