package attempt

import (
	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
)

// DefaultBindingCapacity bounds the conversation-to-attempt map.
// Oldest bindings are evicted first once the cap is reached.
const DefaultBindingCapacity = 256

// Registry owns attempt identity for one monitored session.
//
// INVARIANTS:
//   - At most one non-superseded attempt is bound per conversation.
//   - Alias resolution terminates even under pathological cycles.
//   - Attempts are never removed from memory; terminal phases mark them dead.
//
// Thread-safety model: the registry is owned by the fusion engine's
// single-writer loop and must not be called from other goroutines.
type Registry struct {
	sink     eventlog.Sink
	idGen    IDGenerator
	capacity int

	attempts map[string]*Attempt
	aliases  map[string]string // stale ID -> successor ID
	bindings map[string]string // conversation ID -> canonical attempt ID

	// bindOrder records conversation IDs in first-bind order for FIFO
	// eviction. Entries may be stale after eviction; Bind skips them.
	bindOrder []string

	// onSupersede runs before an attempt is marked terminal so the engine
	// can cancel its timers, abort its probe, and release its lease.
	// Cancellation is a precondition of disposal, not a best-effort cleanup.
	onSupersede func(a *Attempt, reason string)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBindingCapacity overrides the conversation-binding cap.
func WithBindingCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithCancelHook installs the cancellation hook invoked on supersession and
// disposal, before the attempt's phase turns terminal.
func WithCancelHook(fn func(a *Attempt, reason string)) RegistryOption {
	return func(r *Registry) {
		r.onSupersede = fn
	}
}

// NewRegistry creates an empty registry reporting to sink.
func NewRegistry(sink eventlog.Sink, idGen IDGenerator, opts ...RegistryOption) *Registry {
	r := &Registry{
		sink:     sink,
		idGen:    idGen,
		capacity: DefaultBindingCapacity,
		attempts: make(map[string]*Attempt),
		aliases:  make(map[string]string),
		bindings: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAlias follows alias edges from id to the canonical attempt ID.
//
// Resolution stops the first time it revisits a node, so pathological cycles
// terminate and return the last unvisited ID reached. IDs with no edges are
// returned unchanged.
func (r *Registry) ResolveAlias(id string) string {
	visited := map[string]struct{}{id: {}}
	current := id
	for {
		next, ok := r.aliases[current]
		if !ok {
			return current
		}
		if _, seen := visited[next]; seen {
			return current
		}
		visited[next] = struct{}{}
		current = next
	}
}

// Get returns the attempt for id after alias resolution, or nil.
func (r *Registry) Get(id string) *Attempt {
	return r.attempts[r.ResolveAlias(id)]
}

// Create registers a fresh attempt under id. If the ID (after alias
// resolution) already exists, the existing attempt is returned.
func (r *Registry) Create(id, platform string) *Attempt {
	canonical := r.ResolveAlias(id)
	if a, ok := r.attempts[canonical]; ok {
		return a
	}
	a := New(canonical, platform)
	r.attempts[canonical] = a
	return a
}

// IsDisposedOrSuperseded reports whether the attempt's phase is terminal.
// Unknown IDs are not terminal: a first signal may still create them.
func (r *Registry) IsDisposedOrSuperseded(id string) bool {
	a := r.attempts[r.ResolveAlias(id)]
	return a != nil && a.Phase.Terminal()
}

// Peek returns the canonical attempt bound to a conversation without
// creating anything. Returns nil when the conversation is unbound.
func (r *Registry) Peek(conversationID string) *Attempt {
	id, ok := r.bindings[conversationID]
	if !ok {
		return nil
	}
	return r.attempts[r.ResolveAlias(id)]
}

// Resolve returns the attempt bound to a conversation, lazily creating and
// binding a fresh one when none exists. Last resort for signal handlers that
// must have an attempt to attach to.
func (r *Registry) Resolve(conversationID, platform string) *Attempt {
	if a := r.Peek(conversationID); a != nil {
		return a
	}
	a := r.Create(r.idGen.Generate(), platform)
	r.Bind(conversationID, a.ID)
	return a
}

// Bind registers attemptID (after alias resolution) as canonical for the
// conversation. A previously bound different attempt is superseded: its
// cancellation hook runs, its phase turns PhaseSuperseded, a disposal event
// is emitted, and an alias edge old -> new redirects in-flight stale
// messages.
func (r *Registry) Bind(conversationID, attemptID string) *Attempt {
	canonical := r.ResolveAlias(attemptID)
	a, ok := r.attempts[canonical]
	if !ok {
		a = New(canonical, "")
		r.attempts[canonical] = a
	}
	a.ConversationID = conversationID

	prevID, bound := r.bindings[conversationID]
	if bound {
		prev := r.attempts[r.ResolveAlias(prevID)]
		if prev != nil && prev.ID != canonical {
			r.supersede(prev, canonical)
		}
	} else {
		r.bindOrder = append(r.bindOrder, conversationID)
	}
	r.bindings[conversationID] = canonical
	// Evict after inserting so the map never settles above capacity.
	r.evict()
	return a
}

// Dispose terminates an attempt for a non-supersession reason (session
// teardown). The cancellation hook runs first; terminal attempts are a
// no-op.
func (r *Registry) Dispose(id, reason string) {
	a := r.attempts[r.ResolveAlias(id)]
	if a == nil || a.Phase.Terminal() {
		return
	}
	if r.onSupersede != nil {
		r.onSupersede(a, reason)
	}
	a.Phase = PhaseDisposed
	a.Ready = false
	a.Blocking.Clear()
	r.sink.Emit(eventlog.Event{
		AttemptID: a.ID,
		Level:     eventlog.LevelInfo,
		Event:     "attempt_disposed",
		Message:   "attempt disposed",
		Payload:   map[string]any{"reason": reason},
	})
}

// supersede terminates prev in favor of nextID for the same conversation.
func (r *Registry) supersede(prev *Attempt, nextID string) {
	if r.onSupersede != nil {
		r.onSupersede(prev, "superseded")
	}
	prev.Phase = PhaseSuperseded
	prev.Ready = false
	prev.Blocking.Clear()
	r.aliases[prev.ID] = nextID
	r.sink.Emit(eventlog.Event{
		AttemptID: prev.ID,
		Level:     eventlog.LevelInfo,
		Event:     "attempt_disposed",
		Message:   "attempt superseded",
		Payload: map[string]any{
			"reason":  "superseded",
			"from_id": prev.ID,
			"to_id":   nextID,
		},
	})
}

// evict drops the oldest conversation bindings beyond capacity. Evicting a
// binding does not dispose its attempt; the attempt map is retained for the
// session lifetime.
func (r *Registry) evict() {
	for len(r.bindings) > r.capacity && len(r.bindOrder) > 0 {
		oldest := r.bindOrder[0]
		r.bindOrder = r.bindOrder[1:]
		if _, ok := r.bindings[oldest]; !ok {
			continue // already evicted or rebound away
		}
		delete(r.bindings, oldest)
		r.sink.Emit(eventlog.Event{
			Level:   eventlog.LevelDebug,
			Event:   "binding_evicted",
			Message: "conversation binding evicted under capacity pressure",
			Payload: map[string]any{"conversation_id": oldest},
		})
	}
}

// BindingCount returns the number of live conversation bindings.
// Used for diagnostics and tests.
func (r *Registry) BindingCount() int {
	return len(r.bindings)
}

// AttemptCount returns the number of attempts ever created this session.
func (r *Registry) AttemptCount() int {
	return len(r.attempts)
}
