package runloop

import (
	"context"
	"testing"
	"time"
)

func TestFlushRunsInPostOrder(t *testing.T) {
	l := New()
	var got []int
	l.Post(func() { got = append(got, 1) })
	l.Post(func() { got = append(got, 2) })
	l.Post(func() { got = append(got, 3) })
	l.Flush()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", got)
	}
}

func TestAfterPostsBackOntoLoop(t *testing.T) {
	l := New()
	fired := make(chan struct{})
	l.After(5*time.Millisecond, func() { close(fired) })

	time.Sleep(30 * time.Millisecond)
	l.Flush()
	select {
	case <-fired:
	default:
		t.Fatal("timer callback did not run on the loop")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	ran := make(chan struct{})
	l.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("posted func never ran")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Posts after close are dropped, not queued.
	l.Post(func() { t.Error("post after close ran") })
	l.Flush()
}
