package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundproof/core/pkg/contracts"
)

func testEscrow(campaignID string) *contracts.EscrowState {
	return &contracts.EscrowState{
		CampaignID:        campaignID,
		ContractID:        "ctr-77",
		EscrowAddress:     "ESCROWADDR",
		NGOAddress:        "NGOADDR",
		Goal:              5_000_000,
		Deadline:          time.Now().Add(30 * 24 * time.Hour),
		ApprovalThreshold: 0.5,
		CreatedAt:         time.Now(),
	}
}

func TestSQLiteEscrowStore_CreateOncePerCampaign(t *testing.T) {
	s, err := NewSQLiteEscrowStore(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, testEscrow("c1")))

	err = s.Create(ctx, testEscrow("c1"))
	assert.ErrorIs(t, err, contracts.ErrEscrowExists)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ctr-77", got.ContractID)
	assert.False(t, got.ReleaseClaimed)
	assert.False(t, got.Released)
}

func TestSQLiteEscrowStore_GetMissing(t *testing.T) {
	s, err := NewSQLiteEscrowStore(openTestDB(t))
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestSQLiteEscrowStore_ClaimReleaseExactlyOnce(t *testing.T) {
	s, err := NewSQLiteEscrowStore(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testEscrow("c1")))

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimRelease(ctx, "c1")
			assert.NoError(t, err)
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)

	var claimed int
	for won := range wins {
		if won {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed, "release must be claimed exactly once")
}

func TestSQLiteEscrowStore_ClaimSurvivesReopen(t *testing.T) {
	db := openTestDB(t)
	s, err := NewSQLiteEscrowStore(db)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testEscrow("c1")))

	claimed, err := s.ClaimRelease(ctx, "c1")
	require.NoError(t, err)
	require.True(t, claimed)

	// A fresh store over the same database (simulated restart) must not
	// hand out the claim again.
	s2, err := NewSQLiteEscrowStore(db)
	require.NoError(t, err)
	claimed, err = s2.ClaimRelease(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSQLiteEscrowStore_MarkReleaseClaimed(t *testing.T) {
	s, err := NewSQLiteEscrowStore(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testEscrow("c1")))

	// A claim won elsewhere (the Redis gate) is mirrored here so the
	// reconciler sees the escrow as pending.
	require.NoError(t, s.MarkReleaseClaimed(ctx, "c1"))
	pending, err := s.PendingReleases(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].CampaignID)

	// Idempotent, and it does not disturb the local gate's answer.
	require.NoError(t, s.MarkReleaseClaimed(ctx, "c1"))
	claimed, err := s.ClaimRelease(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSQLiteEscrowStore_ReleaseLifecycle(t *testing.T) {
	s, err := NewSQLiteEscrowStore(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, testEscrow("c1")))

	claimed, err := s.ClaimRelease(ctx, "c1")
	require.NoError(t, err)
	require.True(t, claimed)

	// Claimed but unsubmitted: visible to the reconciler.
	pending, err := s.PendingReleases(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].ReleaseTxID)

	require.NoError(t, s.MarkReleaseSubmitted(ctx, "c1", "tx-9"))
	pending, err = s.PendingReleases(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-9", pending[0].ReleaseTxID)

	require.NoError(t, s.MarkReleaseConfirmed(ctx, "c1"))
	pending, err = s.PendingReleases(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Released)
	assert.True(t, got.ReleaseConfirmed)
	assert.Equal(t, "tx-9", got.ReleaseTxID)
}
