package stabilize

import (
	"time"

	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

// Result reports what Schedule did.
type Result int

const (
	// Scheduled means another tick was armed within the budget.
	Scheduled Result = iota + 1
	// GraceScheduled means the budget is spent and the single grace tick
	// was armed.
	GraceScheduled
	// Exhausted means no further ticks will fire; the timeout warning was
	// emitted (once) and the attempt is eligible for the degraded path.
	Exhausted
)

// state is the per-attempt retry bookkeeping. Cleared entirely when the
// attempt reaches ready or turns terminal.
type state struct {
	retryCount   int
	startedAtMs  int64
	inProgress   bool
	graceUsed    bool
	timedOut     bool
	seqAtTimeout int64 // ingest seq of the newest sample when the timeout fired
}

// Scheduler owns stabilization retry state for all live attempts.
//
// The tick callback fires on the timer goroutine; production wiring
// re-enqueues into the fusion engine's loop, tests drive it synchronously
// through a fake timer service. All other methods must be called from the
// engine's single-writer loop.
type Scheduler struct {
	policy Policy
	timers timer.Service
	clock  timer.Clock
	sink   eventlog.Sink
	tick   func(attemptID string)

	states  map[string]*state
	handles map[string]timer.Handle
}

// NewScheduler creates a scheduler that invokes tick for every armed retry.
func NewScheduler(policy Policy, timers timer.Service, clock timer.Clock, sink eventlog.Sink, tick func(attemptID string)) *Scheduler {
	return &Scheduler{
		policy:  policy,
		timers:  timers,
		clock:   clock,
		sink:    sink,
		tick:    tick,
		states:  make(map[string]*state),
		handles: make(map[string]timer.Handle),
	}
}

// Schedule arms the next retry tick for an attempt, creating its retry state
// on first use. lastSampleSeq is the ingest sequence of the newest canonical
// sample seen for the attempt; it is recorded if this call exhausts the
// budget, so a later strictly-fresher sample can re-arm.
//
// Exhaustion is not a failure: the one-shot warning surfaces a manual
// override downstream, and passive recovery stays possible.
func (s *Scheduler) Schedule(attemptID string, lastSampleSeq int64) Result {
	st, ok := s.states[attemptID]
	if !ok {
		st = &state{startedAtMs: s.clock.NowMs()}
		s.states[attemptID] = st
	}

	if st.retryCount < s.policy.MaxRetries {
		st.retryCount++
		s.arm(attemptID, s.policy.RetryDelay)
		return Scheduled
	}

	if !st.graceUsed {
		st.graceUsed = true
		s.arm(attemptID, s.policy.Grace)
		return GraceScheduled
	}

	// The tick that reached exhaustion came from the last armed timer;
	// drop its handle so the pending-timer count stays honest.
	if h, ok := s.handles[attemptID]; ok {
		h.Stop()
		delete(s.handles, attemptID)
	}

	if !st.timedOut {
		st.timedOut = true
		st.seqAtTimeout = lastSampleSeq
		s.sink.Emit(eventlog.Event{
			AttemptID: attemptID,
			Level:     eventlog.LevelWarn,
			Event:     "stabilization_timeout",
			Message:   "canonical sample did not stabilize within the retry budget",
			Payload: map[string]any{
				"retries":    st.retryCount,
				"elapsed_ms": s.clock.NowMs() - st.startedAtMs,
			},
			DedupeKey: "stabilization_timeout:" + attemptID,
		})
	}
	return Exhausted
}

// arm replaces any pending timer for the attempt. One outstanding timer per
// attempt, always.
func (s *Scheduler) arm(attemptID string, d time.Duration) {
	if h, ok := s.handles[attemptID]; ok {
		h.Stop()
	}
	id := attemptID
	s.handles[attemptID] = s.timers.AfterFunc(d, func() {
		s.tick(id)
	})
}

// BeginTick marks a tick as in progress. Returns false when a tick for the
// same attempt is already running (re-entrancy from concurrent timers or a
// slow fetch) or when the attempt has no retry state; the caller must abort.
func (s *Scheduler) BeginTick(attemptID string) bool {
	st, ok := s.states[attemptID]
	if !ok || st.inProgress {
		return false
	}
	st.inProgress = true
	return true
}

// EndTick clears the in-progress guard set by BeginTick.
func (s *Scheduler) EndTick(attemptID string) {
	if st, ok := s.states[attemptID]; ok {
		st.inProgress = false
	}
}

// TimedOut reports whether the attempt's budget was exhausted and the
// one-shot warning fired.
func (s *Scheduler) TimedOut(attemptID string) bool {
	st, ok := s.states[attemptID]
	return ok && st.timedOut
}

// Rearm resets a timed-out attempt's retry state when sampleSeq is strictly
// fresher than the newest sample known at timeout. Returns whether the
// reset happened. Freshness compares ingest sequence, not the host page's
// wall clock: the sequence is monotonic by construction, so re-arming
// cannot oscillate on repeated stale data.
func (s *Scheduler) Rearm(attemptID string, sampleSeq int64) bool {
	st, ok := s.states[attemptID]
	if !ok || !st.timedOut || sampleSeq <= st.seqAtTimeout {
		return false
	}
	st.retryCount = 0
	st.graceUsed = false
	st.timedOut = false
	st.startedAtMs = s.clock.NowMs()
	return true
}

// Clear cancels any pending timer and drops all retry state for the attempt.
// Called when the attempt reaches ready or turns terminal. Cancellation is
// synchronous: after Clear returns there is no outstanding timer.
func (s *Scheduler) Clear(attemptID string) {
	if h, ok := s.handles[attemptID]; ok {
		h.Stop()
		delete(s.handles, attemptID)
	}
	delete(s.states, attemptID)
}

// Tracking reports whether the attempt currently has retry state.
func (s *Scheduler) Tracking(attemptID string) bool {
	_, ok := s.states[attemptID]
	return ok
}

// PendingTimers returns the number of armed timers. Used by tests to verify
// cancellation on supersede.
func (s *Scheduler) PendingTimers() int {
	return len(s.handles)
}
