// Package timer defines the clock and timer capabilities the engine depends
// on. Production code uses the wall-clock implementations below; tests swap
// in the deterministic twins from internal/testutil so retry and lease-expiry
// behavior can be exercised without real waits.
package timer

import "time"

// Clock reports the current time.
type Clock interface {
	NowMs() int64
}

// Handle is a cancellable pending timer.
//
// Stop prevents the callback from firing if it has not fired yet. Stopping an
// already-fired or already-stopped handle is a no-op.
type Handle interface {
	Stop()
}

// Service schedules one-shot callbacks.
//
// Callbacks may fire on an arbitrary goroutine; callers that require
// single-writer semantics must re-enqueue into their own loop from the
// callback (the fusion engine does exactly this).
type Service interface {
	AfterFunc(d time.Duration, fn func()) Handle
}

// WallClock is the production Clock backed by time.Now.
type WallClock struct{}

// NowMs returns the current wall-clock time in Unix milliseconds.
func (WallClock) NowMs() int64 {
	return time.Now().UnixMilli()
}

// RealService is the production Service backed by time.AfterFunc.
type RealService struct{}

// AfterFunc schedules fn after d on the runtime timer heap.
func (RealService) AfterFunc(d time.Duration, fn func()) Handle {
	return realHandle{t: time.AfterFunc(d, fn)}
}

type realHandle struct {
	t *time.Timer
}

func (h realHandle) Stop() {
	h.t.Stop()
}
