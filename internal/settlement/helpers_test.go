package settlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/storage/memory"
	"github.com/thecyberginehost/moonforge/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var modes = []Mode{ModeActor, ModeOptimistic}

// faultyStore wraps the memory store with injectable commit failures.
type faultyStore struct {
	*memory.Store

	mu           sync.Mutex
	commitErr    error
	conflicts    int32
	alwaysClash  bool
	beforeCommit func()
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memory.New()}
}

func (f *faultyStore) setBeforeCommit(fn func()) {
	f.mu.Lock()
	f.beforeCommit = fn
	f.mu.Unlock()
}

func (f *faultyStore) CommitTrade(ctx context.Context, v uint64, next *curve.ReserveState, entry *ledger.Entry) error {
	f.mu.Lock()
	hook, commitErr, clash := f.beforeCommit, f.commitErr, f.alwaysClash
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if commitErr != nil {
		return commitErr
	}
	if clash || atomic.AddInt32(&f.conflicts, -1) >= 0 {
		return fmt.Errorf("forced: %w", storage.ErrVersionConflict)
	}
	return f.Store.CommitTrade(ctx, v, next, entry)
}

func testConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.MaxElapsed = 30 * time.Second
	cfg.ActorIdleTimeout = time.Second
	cfg.CommitTimeout = 5 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, store storage.Storage, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(store, fee.DefaultSchedule(), graduation.DefaultPolicy(), cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Close(ctx))
	})
	return e
}

func createToken(t *testing.T, e *Engine, id string) *curve.ReserveState {
	t.Helper()
	s, err := e.CreateToken(context.Background(), CreateTokenRequest{TokenID: id})
	require.NoError(t, err)
	return s
}

func buyReq(tokenID string, lamports uint64) TradeRequest {
	return TradeRequest{
		TokenID:   tokenID,
		TradeType: types.TradeBuy,
		Amount:    lamports,
		Slippage:  types.MinOutputSlippage(0),
	}
}

func sellReq(tokenID string, units uint64) TradeRequest {
	return TradeRequest{
		TokenID:   tokenID,
		TradeType: types.TradeSell,
		Amount:    units,
		Slippage:  types.MinOutputSlippage(0),
	}
}

func requireKind(t *testing.T, err error, kind types.ErrorKind) *types.TradeError {
	t.Helper()
	require.Error(t, err)
	var te *types.TradeError
	require.ErrorAs(t, err, &te, "expected *TradeError, got %v", err)
	require.Equal(t, kind, te.Kind, "error: %v", err)
	return te
}

// requireUnchanged asserts that a token has no committed trades.
func requireUnchanged(t *testing.T, e *Engine, tokenID string, version uint64) {
	t.Helper()
	s, err := e.Snapshot(context.Background(), tokenID)
	require.NoError(t, err)
	require.Equal(t, version, s.Version)

	entries, err := e.Ledger(context.Background(), tokenID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, int(version))
}

func testSchedule() fee.Schedule { return fee.DefaultSchedule() }

func testPolicy() graduation.Policy { return graduation.DefaultPolicy() }

func testLogger(t *testing.T) *zap.Logger { return zaptest.NewLogger(t) }
