package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestWallClock_NowMs tests that the wall clock tracks time.Now.
func TestWallClock_NowMs(t *testing.T) {
	before := time.Now().UnixMilli()
	got := WallClock{}.NowMs()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

// TestRealService_AfterFunc tests that scheduled callbacks fire.
func TestRealService_AfterFunc(t *testing.T) {
	fired := make(chan struct{})
	RealService{}.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
}

// TestRealService_Stop tests that a stopped handle does not fire.
func TestRealService_Stop(t *testing.T) {
	fired := make(chan struct{}, 1)
	h := RealService{}.AfterFunc(50*time.Millisecond, func() { fired <- struct{}{} })
	h.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(150 * time.Millisecond):
	}

	// Stopping again is a no-op.
	h.Stop()
}
