// Package storagetest holds behaviour tests shared by every Storage implementation.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// Run executes the suite against stores produced by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CommitTrade", func(t *testing.T) { testCommitTrade(t, newStore(t)) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, newStore(t)) })
	t.Run("ConcurrentCommit", func(t *testing.T) { testConcurrentCommit(t, newStore(t)) })
	t.Run("Discounts", func(t *testing.T) { testDiscounts(t, newStore(t)) })
}

func newState(t *testing.T, id string) *curve.ReserveState {
	t.Helper()
	s, err := curve.NewReserveState(id, curve.DefaultParams(), time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, err)
	return s
}

// buy builds the next state and entry for a fee-free buy of solIn lamports.
func buy(t *testing.T, s *curve.ReserveState, solIn uint64) (*curve.ReserveState, *ledger.Entry) {
	t.Helper()
	out, err := curve.QuoteBuy(s, solIn)
	require.NoError(t, err)

	next := s.Clone()
	next.RealSolReserves += solIn
	next.RealTokenReserves -= out
	next.TokensSold += out
	next.SolRaised += solIn
	next.Version++
	next.TradeCount++
	next.VolumeLamports += solIn
	next.UpdatedAt = s.UpdatedAt.Add(time.Second)
	next.RefreshDisplay()

	entry := &ledger.Entry{
		ID:              ledger.NewID(),
		TokenID:         s.TokenID,
		Wallet:          "wallet",
		TradeType:       types.TradeBuy,
		InputAmount:     solIn,
		OutputAmount:    out,
		CurveSolDelta:   int64(solIn),
		CurveTokenDelta: -int64(out),
		Fee:             fee.Breakdown{},
		Version:         next.Version,
		CreatedAt:       next.UpdatedAt,
	}
	return next, entry
}

func testCreateAndGet(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := newState(t, "create")
	s.MintAddress = "So11111111111111111111111111111111111111112"

	require.NoError(t, st.CreateToken(ctx, s))
	require.ErrorIs(t, st.CreateToken(ctx, s), storage.ErrDuplicateKey)

	got, err := st.GetReserveState(ctx, "create")
	require.NoError(t, err)
	assert.Equal(t, s.TokenID, got.TokenID)
	assert.Equal(t, s.MintAddress, got.MintAddress)
	assert.Equal(t, s.RealTokenReserves, got.RealTokenReserves)
	assert.Equal(t, s.CurveTokenReserves, got.CurveTokenReserves)
	assert.True(t, got.IsActive)
	assert.Zero(t, got.Version)

	_, err = st.GetReserveState(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.CreateToken(ctx, newState(t, "second")))
	list, err := st.ListTokens(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testCommitTrade(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := newState(t, "commit")
	require.NoError(t, st.CreateToken(ctx, s))

	cur := s
	for i := 0; i < 3; i++ {
		next, entry := buy(t, cur, types.LamportsPerSol)
		require.NoError(t, st.CommitTrade(ctx, cur.Version, next, entry))
		cur = next
	}

	got, err := st.GetReserveState(ctx, "commit")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Version)
	assert.Equal(t, cur.RealSolReserves, got.RealSolReserves)
	assert.Equal(t, cur.TokensSold, got.TokensSold)

	entries, err := st.ListLedgerEntries(ctx, "commit", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Version)
	}
	require.NoError(t, ledger.Reconcile(got, entries).Err())

	paged, err := st.ListLedgerEntries(ctx, "commit", 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, uint64(2), paged[0].Version)
}

func testVersionConflict(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := newState(t, "cas")
	require.NoError(t, st.CreateToken(ctx, s))

	a, entryA := buy(t, s, types.LamportsPerSol)
	b, entryB := buy(t, s, 2*types.LamportsPerSol)

	require.NoError(t, st.CommitTrade(ctx, 0, a, entryA))
	require.ErrorIs(t, st.CommitTrade(ctx, 0, b, entryB), storage.ErrVersionConflict)

	ghost, ghostEntry := buy(t, newState(t, "ghost"), types.LamportsPerSol)
	require.ErrorIs(t, st.CommitTrade(ctx, 0, ghost, ghostEntry), storage.ErrNotFound)

	// The losing commit left nothing behind.
	entries, err := st.ListLedgerEntries(ctx, "cas", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entryA.ID, entries[0].ID)
}

func testConcurrentCommit(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	s := newState(t, "race")
	require.NoError(t, st.CreateToken(ctx, s))

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, entry := buy(t, s, types.LamportsPerSol)
			if err := st.CommitTrade(ctx, 0, next, entry); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success, "exactly one writer wins the version CAS")
	entries, err := st.ListLedgerEntries(ctx, "race", 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testDiscounts(t *testing.T, st storage.Storage) {
	ctx := context.Background()

	bps, err := st.LoadDiscount(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, bps)

	require.NoError(t, st.UpsertDiscount(ctx, "d", 25))
	require.NoError(t, st.UpsertDiscount(ctx, "d", 40))

	bps, err = st.LoadDiscount(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, uint32(40), bps)
}
