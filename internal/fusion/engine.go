// Package fusion is the signal fusion engine: the single-writer state
// machine that turns racing, duplicated, out-of-order completion signals
// into one readiness answer per attempt.
//
// All engine mutations happen synchronously within a signal-handling call on
// the Run loop goroutine, so there is no internal data race; correctness
// hinges on ordering and idempotence across asynchronous arrivals. The only
// suspension points are I/O boundaries (canonical fetch, lease store), and
// every suspension is followed by a staleness re-check before state is
// touched.
package fusion

import (
	"context"
	"fmt"

	"github.com/ragaeeb/blackiya-sub001/internal/attempt"
	"github.com/ragaeeb/blackiya-sub001/internal/capture"
	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/stabilize"
	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

// Canceller aborts external work owned by an attempt: the in-flight probe
// fetch and any probe lease it holds. Invoked synchronously before the
// registry marks the attempt terminal; cancellation is a precondition of
// disposal, not best-effort cleanup.
type Canceller interface {
	CancelAttempt(conversationID, attemptID, reason string)
}

// Engine fuses lifecycle, sample, and disposal signals into per-attempt
// readiness.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Dispatch()/Drain()/Bind()/Resolve*(): owning goroutine only
type Engine struct {
	registry  *attempt.Registry
	evaluator capture.Evaluator
	source    capture.CanonicalSource
	sink      eventlog.Sink
	clock     *Clock
	sched     *stabilize.Scheduler
	queue     *signalQueue
	canceller Canceller

	// pending maps attempt ID to the ready/terminal content hash awaiting a
	// second identical observation. One entry per attempt, cleared when the
	// chain breaks or confirms.
	pending map[string]string

	// degraded maps attempt ID to the ingest seq of its newest degraded
	// sample. Presence feeds the degraded-manual-only decision path.
	degraded map[string]int64
}

// New creates an engine.
//
// evaluator and source are the injected per-platform collaborators; sink
// receives every observable event; timers and wall drive stabilization
// scheduling (swap in the testutil fakes for deterministic tests).
func New(
	evaluator capture.Evaluator,
	source capture.CanonicalSource,
	sink eventlog.Sink,
	timers timer.Service,
	wall timer.Clock,
	opts ...Option,
) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		evaluator: evaluator,
		source:    source,
		sink:      sink,
		clock:     NewClock(),
		queue:     newSignalQueue(),
		canceller: cfg.canceller,
		pending:   make(map[string]string),
		degraded:  make(map[string]int64),
	}

	// Timer callbacks fire on the timer goroutine; re-enqueue so the tick
	// is processed inside the single-writer loop.
	e.sched = stabilize.NewScheduler(cfg.policy, timers, wall, sink, func(attemptID string) {
		e.Enqueue(Signal{Kind: KindStabilizeTick, AttemptID: attemptID})
	})

	e.registry = attempt.NewRegistry(sink, cfg.idGen,
		attempt.WithBindingCapacity(cfg.bindingCapacity),
		attempt.WithCancelHook(e.cancelAttempt),
	)

	return e
}

// cancelAttempt is the registry's cancellation hook: runs before an attempt
// turns terminal. After it returns the attempt holds no timers, no pending
// confirmation state, and no external probe work.
func (e *Engine) cancelAttempt(a *attempt.Attempt, reason string) {
	e.sched.Clear(a.ID)
	delete(e.pending, a.ID)
	delete(e.degraded, a.ID)
	if e.canceller != nil {
		e.canceller.CancelAttempt(a.ConversationID, a.ID, reason)
	}
}

// Enqueue submits a signal for processing by the Run loop.
// Thread-safe; returns false once the engine is stopped.
func (e *Engine) Enqueue(s Signal) bool {
	return e.queue.Enqueue(s)
}

// Run starts the single-writer signal loop. Blocks until the context is
// cancelled or Stop is called.
//
// On a processing failure the error is logged through the sink and the loop
// continues: a malformed signal must not wedge the session.
func (e *Engine) Run(ctx context.Context) error {
	for {
		sig, ok := e.queue.TryDequeue()
		if ok {
			if err := e.Dispatch(ctx, sig); err != nil {
				e.sink.Emit(eventlog.Event{
					AttemptID: sig.AttemptID,
					Level:     eventlog.LevelError,
					Event:     "signal_failed",
					Message:   "signal processing failed",
					Payload:   map[string]any{"kind": sig.Kind.String(), "error": err.Error()},
				})
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			return ctx.Err()
		case <-e.queue.Wait():
			// A leftover wakeup token from an already-drained enqueue is
			// not a shutdown; only a closed and empty queue ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine; Run returns after the queue drains.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain synchronously processes everything queued, returning the number of
// signals handled. Used by tests and replay, where timer fakes enqueue ticks
// that must run before the next assertion.
func (e *Engine) Drain(ctx context.Context) int {
	n := 0
	for {
		sig, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		n++
		if err := e.Dispatch(ctx, sig); err != nil {
			e.sink.Emit(eventlog.Event{
				AttemptID: sig.AttemptID,
				Level:     eventlog.LevelError,
				Event:     "signal_failed",
				Message:   "signal processing failed",
				Payload:   map[string]any{"kind": sig.Kind.String(), "error": err.Error()},
			})
		}
	}
}

// Dispatch processes one signal synchronously on the caller's goroutine.
// Must only be called from the goroutine that owns the engine.
func (e *Engine) Dispatch(ctx context.Context, sig Signal) error {
	switch sig.Kind {
	case KindPromptSent:
		return e.handleLifecycle(sig, attempt.PhasePromptSent)
	case KindStreaming:
		return e.handleLifecycle(sig, attempt.PhaseStreaming)
	case KindCompletedHint:
		return e.handleLifecycle(sig, attempt.PhaseCompletedHint)
	case KindTerminatedPartial:
		return e.handleLifecycle(sig, attempt.PhaseTerminatedPartial)
	case KindSample:
		return e.handleSample(sig)
	case KindDispose:
		e.handleDispose(sig)
		return nil
	case KindStabilizeTick:
		e.handleTick(ctx, sig.AttemptID)
		return nil
	default:
		return fmt.Errorf("unknown signal kind: %d", sig.Kind)
	}
}

// Bind registers attemptID as canonical for a conversation, superseding any
// previously bound attempt. Called by the host bridge when the backend
// reveals the conversation ID. Owning goroutine only.
func (e *Engine) Bind(conversationID, attemptID string) {
	e.registry.Bind(conversationID, attemptID)
}

// Registry exposes the attempt registry for diagnostics and tests.
func (e *Engine) Registry() *attempt.Registry {
	return e.registry
}

// resolveTarget locates (or lazily creates) the attempt a signal refers to.
//
// Returns nil when the signal is stale and must be dropped. redirect
// controls whether a signal naming a superseded attempt follows the alias
// edge to the successor: content-bearing signals (samples, dispose) do,
// lifecycle signals do not — a late "streaming" from a dead attempt must not
// advance its successor's phase.
func (e *Engine) resolveTarget(sig Signal, redirect bool) *attempt.Attempt {
	if sig.AttemptID != "" {
		canonical := e.registry.ResolveAlias(sig.AttemptID)
		if canonical != sig.AttemptID && !redirect {
			e.dropStale(sig, "attempt superseded")
			return nil
		}
		a := e.registry.Get(canonical)
		if a == nil {
			a = e.registry.Create(canonical, sig.Platform)
		}
		if a.Phase.Terminal() {
			e.dropStale(sig, "attempt "+a.Phase.String())
			return nil
		}
		if sig.ConversationID != "" {
			a = e.registry.Bind(sig.ConversationID, a.ID)
		}
		return a
	}

	if sig.ConversationID != "" {
		a := e.registry.Resolve(sig.ConversationID, sig.Platform)
		if a.Phase.Terminal() {
			e.dropStale(sig, "attempt "+a.Phase.String())
			return nil
		}
		return a
	}

	e.dropStale(sig, "signal carries no identity")
	return nil
}

// dropStale records a dropped signal at debug level. Stale signals are
// expected noise, never user-visible.
func (e *Engine) dropStale(sig Signal, cause string) {
	e.sink.Emit(eventlog.Event{
		AttemptID: sig.AttemptID,
		Level:     eventlog.LevelDebug,
		Event:     "stale_signal",
		Message:   "dropping stale signal",
		Payload: map[string]any{
			"kind":            sig.Kind.String(),
			"conversation_id": sig.ConversationID,
			"cause":           cause,
		},
	})
}

// handleLifecycle applies a phase transition with the regression guard.
func (e *Engine) handleLifecycle(sig Signal, target attempt.Phase) error {
	a := e.resolveTarget(sig, false)
	if a == nil {
		return nil
	}

	if target.RegressesFrom(a.Phase) {
		e.sink.Emit(eventlog.Event{
			AttemptID: a.ID,
			Level:     eventlog.LevelDebug,
			Event:     "phase_regression_rejected",
			Message:   "out-of-order lifecycle signal rejected",
			Payload:   map[string]any{"current": a.Phase.String(), "rejected": target.String()},
		})
		return nil
	}

	from := a.Phase
	a.Phase = target
	e.sink.Emit(eventlog.Event{
		AttemptID: a.ID,
		Level:     eventlog.LevelDebug,
		Event:     "phase_transition",
		Message:   "attempt phase changed",
		Payload:   map[string]any{"from": from.String(), "to": target.String()},
	})

	// A completion hint enters stabilization: the canonical payload often
	// settles after the page's own "done" signal.
	if target == attempt.PhaseCompletedHint && !a.Ready {
		e.scheduleRetry(a)
	}
	return nil
}

// handleSample ingests a captured sample, stamping it with the ingest seq.
func (e *Engine) handleSample(sig Signal) error {
	if sig.Sample == nil {
		return fmt.Errorf("sample signal missing sample data")
	}

	a := e.resolveTarget(sig, true)
	if a == nil {
		return nil
	}

	s := *sig.Sample
	if s.ConversationID == "" {
		s.ConversationID = sig.ConversationID
	}
	s.Seq = e.clock.Next()
	a.LastSampleSeq = s.Seq

	if s.Fidelity == capture.FidelityDegraded {
		e.recordDegraded(a, s.Seq)
		return nil
	}

	e.applySample(a, s)
	return nil
}

// recordDegraded notes a degraded snapshot for the attempt. Degraded data
// feeds the manual-only decision path and never enters the stabilization
// chain.
func (e *Engine) recordDegraded(a *attempt.Attempt, seq int64) {
	e.degraded[a.ID] = seq
	e.sink.Emit(eventlog.Event{
		AttemptID: a.ID,
		Level:     eventlog.LevelDebug,
		Event:     "degraded_sample",
		Message:   "degraded snapshot recorded",
		Payload:   map[string]any{"seq": seq},
	})
}

// applySample runs the evaluator over a canonical sample and advances the
// two-consecutive-identical-fingerprint debounce.
func (e *Engine) applySample(a *attempt.Attempt, s capture.Sample) {
	verdict := e.evaluator.Evaluate(s)
	if verdict.ContentHash != "" {
		a.LastFingerprint = verdict.ContentHash
	}

	// A strictly fresher sample re-arms a timed-out attempt: passive
	// recovery stays possible after the retry budget is spent.
	if e.sched.TimedOut(a.ID) && e.sched.Rearm(a.ID, s.Seq) {
		a.Blocking.Remove(attempt.ConditionStabilizationTimeout)
		e.sink.Emit(eventlog.Event{
			AttemptID: a.ID,
			Level:     eventlog.LevelInfo,
			Event:     "stabilization_rearmed",
			Message:   "fresher sample re-armed stabilization after timeout",
			Payload:   map[string]any{"seq": s.Seq},
		})
	}

	// Ready is sticky: once declared, identical samples are idempotent
	// no-ops and divergent ones are ignored.
	if a.Ready {
		return
	}

	if verdict.Ready && verdict.Terminal && verdict.ContentHash != "" {
		if e.pending[a.ID] == verdict.ContentHash {
			e.markReady(a, verdict.ContentHash)
			return
		}
		// First observation of this hash: hold it and wait for the echo.
		e.pending[a.ID] = verdict.ContentHash
		a.Blocking.Add(attempt.ConditionAwaitingStabilization)
		a.Blocking.Remove(attempt.ConditionCapturedNotReady)
		e.scheduleRetry(a)
		return
	}

	// Incomplete sample: breaks any pending confirmation chain.
	delete(e.pending, a.ID)
	a.Blocking.Add(attempt.ConditionCapturedNotReady)
	a.Blocking.Remove(attempt.ConditionAwaitingStabilization)
	if a.Phase == attempt.PhaseCompletedHint || a.Phase == attempt.PhaseCanonicalProbing {
		e.scheduleRetry(a)
	}
}

// markReady finalizes a stabilized attempt.
func (e *Engine) markReady(a *attempt.Attempt, fingerprint string) {
	a.Ready = true
	a.Blocking.Clear()
	delete(e.pending, a.ID)
	e.sched.Clear(a.ID)
	e.sink.Emit(eventlog.Event{
		AttemptID: a.ID,
		Level:     eventlog.LevelInfo,
		Event:     "attempt_ready",
		Message:   "canonical copy stabilized",
		Payload:   map[string]any{"fingerprint": fingerprint},
		DedupeKey: "attempt_ready:" + a.ID,
	})
}

// scheduleRetry arms the next stabilization tick, surfacing the timeout
// condition when the budget is spent.
func (e *Engine) scheduleRetry(a *attempt.Attempt) {
	if e.sched.Schedule(a.ID, a.LastSampleSeq) == stabilize.Exhausted {
		a.Blocking.Add(attempt.ConditionStabilizationTimeout)
	}
}

// handleDispose tears an attempt down. Terminal attempts are a no-op.
func (e *Engine) handleDispose(sig Signal) {
	id := sig.AttemptID
	if id == "" && sig.ConversationID != "" {
		if a := e.registry.Peek(sig.ConversationID); a != nil {
			id = a.ID
		}
	}
	if id == "" {
		return
	}
	reason := sig.Reason
	if reason == "" {
		reason = "session_teardown"
	}
	e.registry.Dispose(id, reason)
}

// handleTick runs one stabilization retry: re-fetch the canonical sample and
// re-evaluate it, with staleness guards on both sides of the fetch.
func (e *Engine) handleTick(ctx context.Context, attemptID string) {
	id := e.registry.ResolveAlias(attemptID)
	a := e.registry.Get(id)

	if err := e.tickStale(a); err != nil {
		e.sink.Emit(eventlog.Event{
			AttemptID: attemptID,
			Level:     eventlog.LevelDebug,
			Event:     "stale_signal",
			Message:   "stabilization tick aborted",
			Payload:   map[string]any{"cause": staleCause(err)},
		})
		e.sched.Clear(id)
		return
	}

	if !e.sched.BeginTick(id) {
		return // overlapping tick or no retry state
	}
	defer e.sched.EndTick(id)

	if a.Phase == attempt.PhaseCompletedHint {
		a.Phase = attempt.PhaseCanonicalProbing
	}

	// Suspension point. The world may change underneath us here.
	s, err := e.source.FetchCanonical(ctx, a.ConversationID)

	if serr := e.tickStale(e.registry.Get(id)); serr != nil {
		e.sink.Emit(eventlog.Event{
			AttemptID: id,
			Level:     eventlog.LevelDebug,
			Event:     "stale_signal",
			Message:   "attempt went stale during canonical fetch",
			Payload:   map[string]any{"cause": staleCause(serr)},
		})
		return
	}

	if err != nil {
		e.sink.Emit(eventlog.Event{
			AttemptID: id,
			Level:     eventlog.LevelDebug,
			Event:     "canonical_fetch_failed",
			Message:   "canonical fetch failed; retrying on cadence",
			Payload:   map[string]any{"error": err.Error()},
		})
		s = nil
	}

	if s == nil {
		e.scheduleRetry(a)
		return
	}

	s.Seq = e.clock.Next()
	a.LastSampleSeq = s.Seq

	// The probe runner falls back to the degraded snapshot source when every
	// canonical candidate fails; such a fetch must not feed the debounce.
	if s.Fidelity == capture.FidelityDegraded {
		e.recordDegraded(a, s.Seq)
		e.scheduleRetry(a)
		return
	}

	e.applySample(a, *s)
}

// tickStale reports why a stabilization tick must abort, or nil when the
// attempt is still the live canonical attempt for its conversation.
func (e *Engine) tickStale(a *attempt.Attempt) error {
	if a == nil {
		return &StaleSignalError{Cause: "attempt unknown"}
	}
	if a.Phase.Terminal() {
		return &StaleSignalError{AttemptID: a.ID, Cause: "attempt " + a.Phase.String()}
	}
	if a.ConversationID != "" {
		if bound := e.registry.Peek(a.ConversationID); bound != nil && bound.ID != a.ID {
			return &StaleSignalError{
				AttemptID:      a.ID,
				ConversationID: a.ConversationID,
				Cause:          "conversation rebound to " + bound.ID,
			}
		}
	}
	return nil
}
