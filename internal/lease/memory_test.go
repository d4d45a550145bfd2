package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragaeeb/blackiya-sub001/internal/testutil"
)

// TestMemoryStore_ClaimAndRelease tests the basic claim lifecycle.
func TestMemoryStore_ClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeScheduler(1_000_000)
	store := NewMemoryStore(clock)

	cl, err := store.Claim(ctx, "conv-1", "a-1", 8000)
	require.NoError(t, err)
	assert.True(t, cl.Acquired)
	assert.Equal(t, "a-1", cl.OwnerAttemptID)
	assert.Equal(t, int64(1_008_000), cl.ExpiresAtMs)
	assert.Equal(t, "a-1", store.Holder("conv-1"))

	require.NoError(t, store.Release(ctx, "conv-1", "a-1"))
	assert.Empty(t, store.Holder("conv-1"))
}

// TestMemoryStore_Contention tests that a held lease blocks other claimants
// and reports the live holder.
func TestMemoryStore_Contention(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeScheduler(1_000_000)
	store := NewMemoryStore(clock)

	first, err := store.Claim(ctx, "conv-1", "a-1", 8000)
	require.NoError(t, err)
	require.True(t, first.Acquired)

	second, err := store.Claim(ctx, "conv-1", "a-2", 8000)
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Equal(t, "a-1", second.OwnerAttemptID)
	assert.Equal(t, first.ExpiresAtMs, second.ExpiresAtMs)
}

// TestMemoryStore_ExpiredLeaseIsClaimable tests takeover after expiry.
func TestMemoryStore_ExpiredLeaseIsClaimable(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeScheduler(1_000_000)
	store := NewMemoryStore(clock)

	_, err := store.Claim(ctx, "conv-1", "a-1", 8000)
	require.NoError(t, err)

	clock.Advance(8 * time.Second)

	cl, err := store.Claim(ctx, "conv-1", "a-2", 8000)
	require.NoError(t, err)
	assert.True(t, cl.Acquired)
	assert.Equal(t, "a-2", store.Holder("conv-1"))
}

// TestMemoryStore_SameOwnerRenewal tests that the holder can re-claim to
// extend its own lease.
func TestMemoryStore_SameOwnerRenewal(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeScheduler(1_000_000)
	store := NewMemoryStore(clock)

	first, err := store.Claim(ctx, "conv-1", "a-1", 8000)
	require.NoError(t, err)

	clock.Advance(4 * time.Second)

	renewed, err := store.Claim(ctx, "conv-1", "a-1", 8000)
	require.NoError(t, err)
	assert.True(t, renewed.Acquired)
	assert.Greater(t, renewed.ExpiresAtMs, first.ExpiresAtMs)
}

// TestMemoryStore_ReleaseOwnershipGuard tests that only the owner can release.
func TestMemoryStore_ReleaseOwnershipGuard(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeScheduler(1_000_000)
	store := NewMemoryStore(clock)

	_, err := store.Claim(ctx, "conv-1", "a-1", 8000)
	require.NoError(t, err)

	// A stale claimant's release must not drop the holder's lease.
	require.NoError(t, store.Release(ctx, "conv-1", "a-2"))
	assert.Equal(t, "a-1", store.Holder("conv-1"))
}
