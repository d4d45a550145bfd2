// Package attempt owns capture-attempt identity: creation, alias-chain
// resolution, conversation binding, and supersession. One Attempt tracks one
// user-prompt-to-response exchange on a monitored page.
package attempt

import "sort"

// Phase is an attempt's lifecycle position.
//
// Lifecycle phases advance monotonically (see Less); PhaseSuperseded and
// PhaseDisposed are terminal and reachable from anywhere.
type Phase int

const (
	// PhaseCreated is the zero lifecycle position before any signal lands.
	PhaseCreated Phase = iota
	// PhasePromptSent means the user's prompt was submitted.
	PhasePromptSent
	// PhaseStreaming means response tokens are arriving.
	PhaseStreaming
	// PhaseCompletedHint means the page signalled generation finished.
	PhaseCompletedHint
	// PhaseCanonicalProbing means the verification fetch is in flight.
	PhaseCanonicalProbing
	// PhaseTerminatedPartial is an explicit non-success end (user stop,
	// network drop). Not terminal: a late canonical sample may still land.
	PhaseTerminatedPartial
	// PhaseSuperseded means a newer attempt took over the conversation.
	PhaseSuperseded
	// PhaseDisposed means the session tore the attempt down.
	PhaseDisposed
)

// String returns the phase name used in events and journal rows.
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhasePromptSent:
		return "prompt_sent"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompletedHint:
		return "completed_hint"
	case PhaseCanonicalProbing:
		return "canonical_probing"
	case PhaseTerminatedPartial:
		return "terminated_partial"
	case PhaseSuperseded:
		return "superseded"
	case PhaseDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is a terminal state.
// Terminal attempts ignore all further signals.
func (p Phase) Terminal() bool {
	return p == PhaseSuperseded || p == PhaseDisposed
}

// lifecycleRank orders the forward lifecycle phases for the regression
// guard: prompt_sent < streaming < completed_hint < canonical_probing.
// Phases outside the chain rank zero and are never rejected by ordering
// alone.
func lifecycleRank(p Phase) int {
	switch p {
	case PhasePromptSent:
		return 1
	case PhaseStreaming:
		return 2
	case PhaseCompletedHint:
		return 3
	case PhaseCanonicalProbing:
		return 4
	default:
		return 0
	}
}

// RegressesFrom reports whether moving to p from current would move the
// attempt backward in the lifecycle ordering. Duplicate and out-of-order
// lifecycle messages are tolerated by rejecting such transitions.
func (p Phase) RegressesFrom(current Phase) bool {
	return lifecycleRank(p) != 0 && lifecycleRank(p) <= lifecycleRank(current)
}

// Condition is a reason an attempt is not yet ready.
type Condition string

const (
	// ConditionAwaitingStabilization: a ready sample arrived but a second
	// identical one has not confirmed it yet.
	ConditionAwaitingStabilization Condition = "awaiting_stabilization"
	// ConditionCapturedNotReady: the latest sample is incomplete.
	ConditionCapturedNotReady Condition = "captured_not_ready"
	// ConditionStabilizationTimeout: the retry budget ran out before two
	// matching samples were observed.
	ConditionStabilizationTimeout Condition = "stabilization_timeout"
)

// ConditionSet is a small set of blocking conditions.
type ConditionSet map[Condition]struct{}

// Add inserts the condition.
func (s ConditionSet) Add(c Condition) {
	s[c] = struct{}{}
}

// Remove deletes the condition if present.
func (s ConditionSet) Remove(c Condition) {
	delete(s, c)
}

// Has reports membership.
func (s ConditionSet) Has(c Condition) bool {
	_, ok := s[c]
	return ok
}

// Clear removes all conditions.
func (s ConditionSet) Clear() {
	for c := range s {
		delete(s, c)
	}
}

// Sorted returns the condition names in stable order for logs and traces.
func (s ConditionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// Attempt is one tracked prompt-to-response exchange.
//
// Attempts are mutated only from the fusion engine's single-writer loop;
// external collaborators observe them through Resolution snapshots, never
// directly.
type Attempt struct {
	ID             string
	Platform       string
	ConversationID string
	Phase          Phase
	Ready          bool
	Blocking       ConditionSet

	// LastFingerprint is the content hash of the most recent canonical
	// sample, or empty when none has been observed.
	LastFingerprint string

	// LastSampleSeq is the ingest sequence of the most recent canonical
	// sample; the recency comparator for stabilization re-arm.
	LastSampleSeq int64
}

// New creates an attempt in PhaseCreated with no blocking conditions.
func New(id, platform string) *Attempt {
	return &Attempt{
		ID:       id,
		Platform: platform,
		Phase:    PhaseCreated,
		Blocking: make(ConditionSet),
	}
}
