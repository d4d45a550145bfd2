// Package decision turns fused engine state into the three-way readiness
// decision consumed by UI and export logic. It is the only externally
// visible verdict; everything upstream is recovered locally.
package decision

import (
	"github.com/ragaeeb/blackiya-sub001/internal/attempt"
	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/fusion"
)

// Outcome is the externally consumed readiness decision.
type Outcome string

const (
	// CanonicalReady: a verified canonical copy is exportable now.
	CanonicalReady Outcome = "canonical_ready"
	// DegradedManualOnly: only a DOM-derived snapshot exists and the
	// canonical path timed out; export requires explicit user confirmation
	// and is never silently equated to canonical.
	DegradedManualOnly Outcome = "degraded_manual_only"
	// NotReady: nothing trustworthy is available yet.
	NotReady Outcome = "not_ready"
)

// Decision is an outcome plus a human-readable reason.
type Decision struct {
	Outcome   Outcome
	Reason    string
	AttemptID string
}

// LegacyJudge is the optional independent evaluator path kept for
// cross-checking during migration. When present, its verdict is compared
// against the engine's; mismatches are logged and the engine wins.
type LegacyJudge interface {
	Judge(conversationID string) (Outcome, bool)
}

// Resolver combines engine resolutions with capture-fidelity metadata.
type Resolver struct {
	engine *fusion.Engine
	sink   eventlog.Sink
	legacy LegacyJudge
}

// NewResolver creates a resolver over the engine. legacy may be nil.
func NewResolver(engine *fusion.Engine, sink eventlog.Sink, legacy LegacyJudge) *Resolver {
	return &Resolver{engine: engine, sink: sink, legacy: legacy}
}

// DecideByConversation produces the decision for a conversation's canonical
// attempt. Owning goroutine only (reads engine state).
func (r *Resolver) DecideByConversation(conversationID string) Decision {
	res, ok := r.engine.ResolveByConversation(conversationID)
	if !ok {
		return r.crossCheck(conversationID, Decision{
			Outcome: NotReady,
			Reason:  "no attempt bound to conversation",
		})
	}
	return r.crossCheck(conversationID, r.decide(res))
}

// DecideByAttempt produces the decision for a specific attempt.
func (r *Resolver) DecideByAttempt(attemptID string) Decision {
	res, ok := r.engine.Resolve(attemptID)
	if !ok {
		return Decision{Outcome: NotReady, Reason: "attempt unknown"}
	}
	return r.decide(res)
}

func (r *Resolver) decide(res fusion.Resolution) Decision {
	if res.Ready {
		return Decision{
			Outcome:   CanonicalReady,
			Reason:    "canonical copy stabilized",
			AttemptID: res.AttemptID,
		}
	}

	if res.HasDegradedSample && res.StabilizationTimedOut {
		return Decision{
			Outcome:   DegradedManualOnly,
			Reason:    "canonical verification timed out; DOM snapshot available with confirmation",
			AttemptID: res.AttemptID,
		}
	}

	return Decision{
		Outcome:   NotReady,
		Reason:    blockingReason(res),
		AttemptID: res.AttemptID,
	}
}

// blockingReason surfaces the most specific reason the attempt is blocked.
func blockingReason(res fusion.Resolution) string {
	has := func(c attempt.Condition) bool {
		for _, b := range res.Blocking {
			if b == string(c) {
				return true
			}
		}
		return false
	}

	switch {
	case has(attempt.ConditionStabilizationTimeout):
		return "stabilization retries exhausted without a verified copy"
	case has(attempt.ConditionAwaitingStabilization):
		return "awaiting a second matching canonical sample"
	case has(attempt.ConditionCapturedNotReady):
		return "latest captured sample is incomplete"
	}

	switch res.Phase {
	case attempt.PhasePromptSent:
		return "prompt sent; no response observed yet"
	case attempt.PhaseStreaming:
		return "response still streaming"
	case attempt.PhaseCompletedHint, attempt.PhaseCanonicalProbing:
		return "awaiting canonical sample"
	case attempt.PhaseTerminatedPartial:
		return "generation ended without completing"
	case attempt.PhaseSuperseded, attempt.PhaseDisposed:
		return "attempt is no longer live"
	default:
		return "no completion signals observed yet"
	}
}

// crossCheck runs the legacy path when configured. The engine decision is
// authoritative; a disagreement is only logged.
func (r *Resolver) crossCheck(conversationID string, d Decision) Decision {
	if r.legacy == nil {
		return d
	}
	legacyOutcome, ok := r.legacy.Judge(conversationID)
	if !ok {
		return d
	}
	if legacyOutcome != d.Outcome {
		r.sink.Emit(eventlog.Event{
			AttemptID: d.AttemptID,
			Level:     eventlog.LevelWarn,
			Event:     "legacy_mismatch",
			Message:   "legacy evaluator disagrees with fusion engine",
			Payload: map[string]any{
				"conversation_id": conversationID,
				"engine":          string(d.Outcome),
				"legacy":          string(legacyOutcome),
			},
		})
	}
	return d
}
