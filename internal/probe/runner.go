// Package probe orchestrates the verification fetch: the expensive network
// round-trip that confirms a conversation's final content. The runner claims
// the cross-tab lease before fetching, dedupes concurrent fetches for the
// same conversation, walks the platform's URL candidates in order, and falls
// back to the degraded snapshot source only after every candidate fails.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ragaeeb/blackiya-sub001/internal/capture"
	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/lease"
	"github.com/ragaeeb/blackiya-sub001/internal/profile"
	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

// Default lease constants. The TTL covers a slow candidate walk; the grace
// keeps losers from racing the holder's release.
const (
	DefaultLeaseTTL   = 8 * time.Second
	DefaultLeaseGrace = 250 * time.Millisecond
)

// Fetcher performs the raw network fetch. Implemented by the host bridge;
// a nil body with nil error means the URL answered with nothing usable.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser converts a raw response body into a sample.
// Returns (nil, nil) for payloads it does not recognize.
type Parser interface {
	Parse(raw []byte) (*capture.Sample, error)
}

// OwnerFunc reports the attempt that currently owns a conversation, or ""
// when none is bound. Called synchronously from the engine loop.
type OwnerFunc func(conversationID string) string

// RetryFunc is invoked when a lost lease becomes worth retrying: exactly
// once per contention, at the holder's expiry plus grace, and only if the
// owning attempt is still valid at fire time.
type RetryFunc func(conversationID, attemptID string)

// Runner implements capture.CanonicalSource and fusion.Canceller.
type Runner struct {
	leases   lease.Store
	fetcher  Fetcher
	parser   Parser
	snaps    capture.SnapshotSource
	prof     *profile.Profile
	sink     eventlog.Sink
	clock    timer.Clock
	timers   timer.Service
	ownerOf  OwnerFunc
	onRetry  RetryFunc
	ttl      time.Duration
	grace    time.Duration
	group    singleflight.Group

	mu         sync.Mutex
	inflight   map[string]context.CancelFunc // conversation -> abort for fetch in flight
	leaseRetry map[string]timer.Handle       // conversation -> pending contention retry
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLeaseTTL overrides the lease TTL.
func WithLeaseTTL(d time.Duration) RunnerOption {
	return func(r *Runner) { r.ttl = d }
}

// WithLeaseGrace overrides the post-expiry grace before a contention retry.
func WithLeaseGrace(d time.Duration) RunnerOption {
	return func(r *Runner) { r.grace = d }
}

// WithRetryFunc installs the contention retry callback.
func WithRetryFunc(fn RetryFunc) RunnerOption {
	return func(r *Runner) { r.onRetry = fn }
}

// NewRunner creates a probe runner for one platform.
func NewRunner(
	leases lease.Store,
	fetcher Fetcher,
	parser Parser,
	snaps capture.SnapshotSource,
	prof *profile.Profile,
	sink eventlog.Sink,
	clock timer.Clock,
	timers timer.Service,
	ownerOf OwnerFunc,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		leases:     leases,
		fetcher:    fetcher,
		parser:     parser,
		snaps:      snaps,
		prof:       prof,
		sink:       sink,
		clock:      clock,
		timers:     timers,
		ownerOf:    ownerOf,
		ttl:        DefaultLeaseTTL,
		grace:      DefaultLeaseGrace,
		inflight:   make(map[string]context.CancelFunc),
		leaseRetry: make(map[string]timer.Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Parse implements capture.CanonicalSource by delegating to the platform
// parser.
func (r *Runner) Parse(raw []byte) (*capture.Sample, error) {
	return r.parser.Parse(raw)
}

// FetchCanonical implements capture.CanonicalSource.
//
// Returns (nil, nil) when the lease is held elsewhere (contention is
// expected, not a failure — a single retry is scheduled at the holder's
// expiry) or when neither the candidates nor the snapshot produced a
// sample.
func (r *Runner) FetchCanonical(ctx context.Context, conversationID string) (*capture.Sample, error) {
	owner := r.ownerOf(conversationID)
	if owner == "" {
		return nil, nil
	}

	cl, err := r.leases.Claim(ctx, conversationID, owner, r.ttl.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("claim probe lease: %w", err)
	}
	if !cl.Acquired {
		r.scheduleLeaseRetry(conversationID, owner, cl)
		return nil, nil
	}
	defer r.leases.Release(context.WithoutCancel(ctx), conversationID, owner)

	fetchCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.inflight[conversationID] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.inflight, conversationID)
		r.mu.Unlock()
	}()

	// Singleflight collapses a stabilization tick racing a user-triggered
	// verification for the same conversation into one network walk.
	v, err, _ := r.group.Do(conversationID, func() (any, error) {
		return r.walkCandidates(fetchCtx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*capture.Sample), nil
}

// walkCandidates tries each canonical URL in profile order, then the
// degraded snapshot source. Individual candidate failures are retried
// against the next URL, not surfaced; only a usable sample or nothing comes
// back.
func (r *Runner) walkCandidates(ctx context.Context, conversationID string) (*capture.Sample, error) {
	for _, url := range r.prof.CandidateURLs(conversationID) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		raw, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			r.sink.Emit(eventlog.Event{
				Level:   eventlog.LevelDebug,
				Event:   "candidate_fetch_failed",
				Message: "canonical URL candidate failed",
				Payload: map[string]any{
					"conversation_id": conversationID,
					"url":             url,
					"error":           err.Error(),
				},
			})
			continue
		}
		if raw == nil {
			continue
		}

		s, err := r.parser.Parse(raw)
		if err != nil || s == nil {
			continue
		}
		s.ConversationID = conversationID
		s.Fidelity = capture.FidelityCanonical
		s.Platform = r.prof.Platform
		return s, nil
	}

	// All candidates exhausted: degraded snapshot is the last resort.
	if r.snaps == nil {
		return nil, nil
	}
	s, err := r.snaps.RequestSnapshot(ctx, conversationID)
	if err != nil || s == nil {
		return nil, nil
	}
	s.ConversationID = conversationID
	s.Fidelity = capture.FidelityDegraded
	s.Platform = r.prof.Platform
	return s, nil
}

// scheduleLeaseRetry arms exactly one retry for a lost claim, at the
// holder's expiry plus grace. No busy-polling: a second loss while a retry
// is already pending is ignored.
func (r *Runner) scheduleLeaseRetry(conversationID, attemptID string, cl lease.Claim) {
	if r.onRetry == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, pending := r.leaseRetry[conversationID]; pending {
		return
	}

	delay := time.Duration(cl.ExpiresAtMs-r.clock.NowMs())*time.Millisecond + r.grace
	if delay < r.grace {
		delay = r.grace
	}

	conv, att := conversationID, attemptID
	r.leaseRetry[conversationID] = r.timers.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.leaseRetry, conv)
		r.mu.Unlock()

		// Validity at fire time is the engine's call: the retry is routed
		// back through it and dropped there if the attempt went stale.
		r.onRetry(conv, att)
	})
}

// CancelAttempt implements fusion.Canceller: aborts any in-flight fetch for
// the conversation, drops a pending contention retry, and releases the
// lease if the attempt holds it.
func (r *Runner) CancelAttempt(conversationID, attemptID, reason string) {
	r.mu.Lock()
	if cancel, ok := r.inflight[conversationID]; ok {
		cancel()
	}
	if h, ok := r.leaseRetry[conversationID]; ok {
		h.Stop()
		delete(r.leaseRetry, conversationID)
	}
	r.mu.Unlock()

	if err := r.leases.Release(context.Background(), conversationID, attemptID); err != nil {
		r.sink.Emit(eventlog.Event{
			AttemptID: attemptID,
			Level:     eventlog.LevelWarn,
			Event:     "lease_release_failed",
			Message:   "could not release probe lease during cancellation",
			Payload:   map[string]any{"conversation_id": conversationID, "error": err.Error()},
		})
	}
}

// PendingLeaseRetries reports armed contention retries. Used by tests.
func (r *Runner) PendingLeaseRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leaseRetry)
}
