package stabilize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/testutil"
)

func newTestScheduler(t *testing.T, policy Policy) (*Scheduler, *testutil.FakeScheduler, *eventlog.MemorySink, *[]string) {
	t.Helper()
	fake := testutil.NewFakeScheduler(1_000_000)
	sink := eventlog.NewMemorySink()
	ticks := &[]string{}
	s := NewScheduler(policy, fake, fake, sink, func(attemptID string) {
		*ticks = append(*ticks, attemptID)
	})
	return s, fake, sink, ticks
}

// TestScheduler_ScheduleFiresTick tests that an armed retry fires the tick
// callback after the retry delay.
func TestScheduler_ScheduleFiresTick(t *testing.T) {
	s, fake, _, ticks := newTestScheduler(t, DefaultPolicy())

	res := s.Schedule("a-1", 0)
	assert.Equal(t, Scheduled, res)
	assert.Equal(t, 1, s.PendingTimers())

	// Nothing fires early.
	fake.Advance(1000 * time.Millisecond)
	assert.Empty(t, *ticks)

	fake.Advance(100 * time.Millisecond)
	require.Equal(t, []string{"a-1"}, *ticks)
	assert.Equal(t, 0, fake.Pending())
}

// TestScheduler_BudgetThenGraceThenExhausted tests the full retry ladder:
// MaxRetries scheduled ticks, one grace tick, then exhaustion.
func TestScheduler_BudgetThenGraceThenExhausted(t *testing.T) {
	policy := Policy{RetryDelay: 1100 * time.Millisecond, MaxRetries: 6, Grace: 2 * time.Second}
	s, _, sink, _ := newTestScheduler(t, policy)

	for i := 0; i < 6; i++ {
		assert.Equal(t, Scheduled, s.Schedule("a-1", 0), "retry %d", i+1)
	}
	assert.Equal(t, GraceScheduled, s.Schedule("a-1", 0))
	assert.Equal(t, Exhausted, s.Schedule("a-1", 0))

	// Exhaustion drops the last armed timer.
	assert.Equal(t, 0, s.PendingTimers())
	assert.True(t, s.TimedOut("a-1"))

	warnings := sink.Named("stabilization_timeout")
	require.Len(t, warnings, 1)
	assert.Equal(t, eventlog.LevelWarn, warnings[0].Level)
	assert.Equal(t, "a-1", warnings[0].AttemptID)
	assert.Equal(t, "stabilization_timeout:a-1", warnings[0].DedupeKey)
}

// TestScheduler_TimeoutWarningIsOneShot tests that repeated exhausted
// schedules emit exactly one warning.
func TestScheduler_TimeoutWarningIsOneShot(t *testing.T) {
	policy := Policy{RetryDelay: time.Second, MaxRetries: 1, Grace: time.Second}
	s, _, sink, _ := newTestScheduler(t, policy)

	s.Schedule("a-1", 0)
	s.Schedule("a-1", 0)
	for i := 0; i < 5; i++ {
		assert.Equal(t, Exhausted, s.Schedule("a-1", 0))
	}

	assert.Len(t, sink.Named("stabilization_timeout"), 1)
}

// TestScheduler_OneTimerPerAttempt tests that re-scheduling replaces the
// pending timer instead of stacking a second one.
func TestScheduler_OneTimerPerAttempt(t *testing.T) {
	s, fake, _, ticks := newTestScheduler(t, DefaultPolicy())

	s.Schedule("a-1", 0)
	s.Schedule("a-1", 0)
	assert.Equal(t, 1, s.PendingTimers())

	fake.Advance(2 * time.Second)
	assert.Equal(t, []string{"a-1"}, *ticks)
}

// TestScheduler_Rearm tests that only a strictly fresher sample sequence
// resets a timed-out attempt.
func TestScheduler_Rearm(t *testing.T) {
	policy := Policy{RetryDelay: time.Second, MaxRetries: 1, Grace: time.Second}
	s, _, _, _ := newTestScheduler(t, policy)

	s.Schedule("a-1", 0)
	s.Schedule("a-1", 0)
	assert.Equal(t, Exhausted, s.Schedule("a-1", 7))
	require.True(t, s.TimedOut("a-1"))

	// Not timed out for an unknown attempt.
	assert.False(t, s.Rearm("nope", 100))

	// Stale and equal sequences do not re-arm.
	assert.False(t, s.Rearm("a-1", 6))
	assert.False(t, s.Rearm("a-1", 7))
	assert.True(t, s.TimedOut("a-1"))

	// Strictly fresher does; the budget is whole again.
	assert.True(t, s.Rearm("a-1", 8))
	assert.False(t, s.TimedOut("a-1"))
	assert.Equal(t, Scheduled, s.Schedule("a-1", 8))
}

// TestScheduler_Clear tests that Clear cancels the timer and drops state.
func TestScheduler_Clear(t *testing.T) {
	s, fake, _, ticks := newTestScheduler(t, DefaultPolicy())

	s.Schedule("a-1", 0)
	require.True(t, s.Tracking("a-1"))
	require.Equal(t, 1, s.PendingTimers())

	s.Clear("a-1")
	assert.False(t, s.Tracking("a-1"))
	assert.Equal(t, 0, s.PendingTimers())

	// The cancelled timer never fires.
	fake.Advance(time.Minute)
	assert.Empty(t, *ticks)

	// Clearing again is a no-op.
	s.Clear("a-1")
}

// TestScheduler_TickGuard tests the in-progress re-entrancy guard.
func TestScheduler_TickGuard(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, DefaultPolicy())

	// No retry state yet: tick must abort.
	assert.False(t, s.BeginTick("a-1"))

	s.Schedule("a-1", 0)
	require.True(t, s.BeginTick("a-1"))
	// Overlapping tick for the same attempt is rejected.
	assert.False(t, s.BeginTick("a-1"))

	s.EndTick("a-1")
	assert.True(t, s.BeginTick("a-1"))
	s.EndTick("a-1")
}

// TestScheduler_IndependentAttempts tests that attempts keep separate budgets
// and timers.
func TestScheduler_IndependentAttempts(t *testing.T) {
	policy := Policy{RetryDelay: time.Second, MaxRetries: 1, Grace: time.Second}
	s, fake, _, ticks := newTestScheduler(t, policy)

	s.Schedule("a-1", 0)
	s.Schedule("a-2", 0)
	assert.Equal(t, 2, s.PendingTimers())

	fake.Advance(time.Second)
	assert.ElementsMatch(t, []string{"a-1", "a-2"}, *ticks)

	// Exhausting a-1 leaves a-2 untouched.
	s.Schedule("a-1", 0)
	assert.Equal(t, Exhausted, s.Schedule("a-1", 0))
	assert.False(t, s.TimedOut("a-2"))
}

// TestDefaultPolicy tests the stabilization constants.
func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 1100*time.Millisecond, p.RetryDelay)
	assert.Equal(t, 6, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.Grace)
}
