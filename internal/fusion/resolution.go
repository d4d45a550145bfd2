package fusion

import "github.com/ragaeeb/blackiya-sub001/internal/attempt"

// Resolution is a read-only snapshot of an attempt's fused state, consumed
// by the readiness decision resolver and the replay CLI.
type Resolution struct {
	AttemptID      string
	ConversationID string
	Phase          attempt.Phase
	Ready          bool
	Blocking       []string
	Fingerprint    string

	// StabilizationTimedOut means the retry budget ran out; together with
	// HasDegradedSample it gates the degraded-manual-only decision.
	StabilizationTimedOut bool
	HasDegradedSample     bool
}

// Resolve snapshots the attempt with the given ID (after alias resolution).
// Owning goroutine only.
func (e *Engine) Resolve(attemptID string) (Resolution, bool) {
	a := e.registry.Get(attemptID)
	if a == nil {
		return Resolution{}, false
	}
	return e.snapshot(a), true
}

// ResolveByConversation snapshots the canonical attempt bound to a
// conversation. Owning goroutine only.
func (e *Engine) ResolveByConversation(conversationID string) (Resolution, bool) {
	a := e.registry.Peek(conversationID)
	if a == nil {
		return Resolution{}, false
	}
	return e.snapshot(a), true
}

func (e *Engine) snapshot(a *attempt.Attempt) Resolution {
	_, hasDegraded := e.degraded[a.ID]
	return Resolution{
		AttemptID:             a.ID,
		ConversationID:        a.ConversationID,
		Phase:                 a.Phase,
		Ready:                 a.Ready,
		Blocking:              a.Blocking.Sorted(),
		Fingerprint:           a.LastFingerprint,
		StabilizationTimedOut: a.Blocking.Has(attempt.ConditionStabilizationTimeout),
		HasDegradedSample:     hasDegraded,
	}
}
