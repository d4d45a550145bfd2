package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFakeScheduler_Advance tests that callbacks fire when the clock crosses
// their deadline, in scheduling order.
func TestFakeScheduler_Advance(t *testing.T) {
	s := NewFakeScheduler(1000)
	assert.Equal(t, int64(1000), s.NowMs())

	var fired []string
	s.AfterFunc(100*time.Millisecond, func() { fired = append(fired, "first") })
	s.AfterFunc(200*time.Millisecond, func() { fired = append(fired, "second") })
	require.Equal(t, 2, s.Pending())

	s.Advance(50 * time.Millisecond)
	assert.Empty(t, fired)
	assert.Equal(t, int64(1050), s.NowMs())

	s.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, fired)
	assert.Equal(t, 0, s.Pending())
}

// TestFakeScheduler_Stop tests that stopped timers never fire.
func TestFakeScheduler_Stop(t *testing.T) {
	s := NewFakeScheduler(0)

	fired := false
	h := s.AfterFunc(time.Second, func() { fired = true })
	h.Stop()
	h.Stop() // idempotent

	s.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, s.Pending())
}

// TestFakeScheduler_CascadingTimers tests that a callback scheduling another
// timer within the advanced window fires in the same Advance call.
func TestFakeScheduler_CascadingTimers(t *testing.T) {
	s := NewFakeScheduler(0)

	var fired []string
	s.AfterFunc(100*time.Millisecond, func() {
		fired = append(fired, "outer")
		s.AfterFunc(100*time.Millisecond, func() {
			fired = append(fired, "inner")
		})
	})

	s.Advance(300 * time.Millisecond)
	assert.Equal(t, []string{"outer", "inner"}, fired)
}

// TestFakeScheduler_CascadeBeyondWindow tests that a rescheduled timer due
// after the window stays pending.
func TestFakeScheduler_CascadeBeyondWindow(t *testing.T) {
	s := NewFakeScheduler(0)

	var fired int
	s.AfterFunc(100*time.Millisecond, func() {
		fired++
		s.AfterFunc(time.Hour, func() { fired++ })
	})

	s.Advance(200 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, s.Pending())
}
