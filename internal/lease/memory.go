package lease

import (
	"context"
	"sync"

	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

// MemoryStore is an in-process Store for tests and single-tab hosts.
// The mutex stands in for the store-level atomicity the contract demands.
type MemoryStore struct {
	mu     sync.Mutex
	clock  timer.Clock
	leases map[string]record
}

type record struct {
	owner   string
	expires int64
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore(clock timer.Clock) *MemoryStore {
	return &MemoryStore{
		clock:  clock,
		leases: make(map[string]record),
	}
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, conversationID, attemptID string, ttlMs int64) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.NowMs()
	cur, held := m.leases[conversationID]
	if held && cur.expires > now && cur.owner != attemptID {
		return Claim{Acquired: false, OwnerAttemptID: cur.owner, ExpiresAtMs: cur.expires}, nil
	}

	expires := now + ttlMs
	m.leases[conversationID] = record{owner: attemptID, expires: expires}
	return Claim{Acquired: true, OwnerAttemptID: attemptID, ExpiresAtMs: expires}, nil
}

// Release implements Store.
func (m *MemoryStore) Release(_ context.Context, conversationID, attemptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, held := m.leases[conversationID]; held && cur.owner == attemptID {
		delete(m.leases, conversationID)
	}
	return nil
}

// Holder returns the current owner for a conversation, or "" when unheld or
// expired. Used by tests.
func (m *MemoryStore) Holder(conversationID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, held := m.leases[conversationID]
	if !held || cur.expires <= m.clock.NowMs() {
		return ""
	}
	return cur.owner
}
