// Package lease implements the cross-tab probe lease: a per-conversation
// mutual-exclusion token guarding the expensive verification fetch. The
// backing store is the only state shared beyond the process boundary, so
// claims must be atomic against concurrent tabs.
package lease

import "context"

// Claim is the outcome of a claim call.
//
// When Acquired is false, OwnerAttemptID and ExpiresAtMs describe the
// current holder so the loser can schedule exactly one retry at
// expiry + grace (no busy-polling).
type Claim struct {
	Acquired       bool
	OwnerAttemptID string
	ExpiresAtMs    int64
}

// Store is the distributed-mutex contract over cross-tab persistence.
//
// INVARIANT: at most one non-expired lease exists per conversation. Expiry is
// absolute wall-clock milliseconds and is never renewed implicitly; the
// holder must re-claim to extend.
type Store interface {
	// Claim atomically grants the lease when it is unclaimed, expired, or
	// already held by attemptID (explicit renewal). The grant must be a
	// single read-modify-write safe conditional operation.
	Claim(ctx context.Context, conversationID, attemptID string, ttlMs int64) (Claim, error)

	// Release drops the lease only when attemptID is the current holder.
	// A non-holder release is a no-op: force-releasing another holder's
	// lease would create a half-owner race.
	Release(ctx context.Context, conversationID, attemptID string) error
}
