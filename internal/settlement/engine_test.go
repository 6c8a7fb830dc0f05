package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/thecyberginehost/moonforge/internal/achievement"
	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/storage/memory"
	"github.com/thecyberginehost/moonforge/internal/types"
)

func TestSettle_BasicBuy(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			e := newTestEngine(t, memory.New(), testConfig(mode))
			createToken(t, e, "tok")

			res, err := e.Settle(context.Background(), buyReq("tok", types.LamportsPerSol))
			require.NoError(t, err)

			assert.True(t, res.Success)
			assert.Equal(t, uint64(34_009_618_488_154), res.TokenAmount)
			assert.Equal(t, uint64(types.LamportsPerSol), res.SolAmount)
			assert.Equal(t, uint64(18_000_000), res.TotalFee)
			assert.Equal(t, FeeSplit{Platform: 10_000_000, Creator: 5_000_000, Liquidity: 2_000_000, PrizePool: 1_000_000}, res.Fees)
			assert.Equal(t, uint32(180), res.EffectiveFeeBps)
			assert.Equal(t, uint64(1), res.Version)
			assert.False(t, res.Graduated)
			assert.NotEmpty(t, res.LedgerEntryID)
			assert.Greater(t, res.PriceImpactBps, uint64(0))

			s, err := e.Snapshot(context.Background(), "tok")
			require.NoError(t, err)
			assert.Equal(t, uint64(982_000_000), s.RealSolReserves)
			assert.Equal(t, uint64(982_000_000), s.SolRaised)
			assert.Equal(t, uint64(34_009_618_488_154), s.TokensSold)
			assert.Equal(t, curve.DefaultParams().CurveTokenReserves-34_009_618_488_154, s.RealTokenReserves)
			assert.Equal(t, uint64(18_000_000), s.FeesCollected)
			assert.Equal(t, uint64(5_000_000), s.CreatorFeesPending)
			assert.Equal(t, uint64(1), s.TradeCount)
			assert.Equal(t, uint64(types.LamportsPerSol), s.VolumeLamports)
			assert.Greater(t, s.CurrentPrice, 0.0)

			entries, err := e.Ledger(context.Background(), "tok", 0, 0)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, res.LedgerEntryID, entries[0].ID)
			assert.Equal(t, int64(982_000_000), entries[0].CurveSolDelta)

			report, err := e.Reconcile(context.Background(), "tok")
			require.NoError(t, err)
			assert.True(t, report.Consistent, report.Mismatches)
		})
	}
}

func TestSettle_BuyThenSell(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			e := newTestEngine(t, memory.New(), testConfig(mode))
			createToken(t, e, "tok")
			ctx := context.Background()

			bought, err := e.Settle(ctx, buyReq("tok", 2*types.LamportsPerSol))
			require.NoError(t, err)

			half := bought.TokenAmount / 2
			sold, err := e.Settle(ctx, sellReq("tok", half))
			require.NoError(t, err)

			assert.Equal(t, half, sold.TokenAmount)
			assert.Greater(t, sold.SolAmount, uint64(0))
			assert.Greater(t, sold.TotalFee, uint64(0))
			assert.Equal(t, uint64(2), sold.Version)

			s, err := e.Snapshot(ctx, "tok")
			require.NoError(t, err)
			assert.Equal(t, bought.TokenAmount-half, s.TokensSold)
			// Sells never lower the graduation counter.
			assert.Equal(t, bought.State.SolRaised, s.SolRaised)
			assert.Equal(t, bought.State.RealSolReserves-sold.SolAmount-sold.TotalFee, s.RealSolReserves)
			require.NoError(t, s.CheckInvariants())

			report, err := e.Reconcile(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, report.Consistent, report.Mismatches)
		})
	}
}

func TestSettle_SellMoreThanSold(t *testing.T) {
	e := newTestEngine(t, memory.New(), testConfig(ModeActor))
	createToken(t, e, "tok")

	_, err := e.Settle(context.Background(), sellReq("tok", types.TokenUnit))
	requireKind(t, err, types.KindInsufficientLiquidity)
	requireUnchanged(t, e, "tok", 0)
}

func TestSettle_SlippageRejectedWithoutMutation(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			e := newTestEngine(t, memory.New(), testConfig(mode))
			createToken(t, e, "tok")
			ctx := context.Background()

			req := buyReq("tok", types.LamportsPerSol)
			req.Slippage = types.MinOutputSlippage(34_009_618_488_155)
			_, err := e.Settle(ctx, req)
			te := requireKind(t, err, types.KindSlippageExceeded)
			assert.Equal(t, uint64(34_009_618_488_155), te.Expected)
			assert.Equal(t, uint64(34_009_618_488_154), te.Actual)
			assert.True(t, errors.Is(err, types.ErrSlippageExceeded))
			requireUnchanged(t, e, "tok", 0)

			// A large buy moves far from the spot price.
			req = buyReq("tok", 20*types.LamportsPerSol)
			req.Slippage = types.ToleranceSlippage(100, 0)
			_, err = e.Settle(ctx, req)
			requireKind(t, err, types.KindSlippageExceeded)
			requireUnchanged(t, e, "tok", 0)

			// The exact minimum is accepted.
			req = buyReq("tok", types.LamportsPerSol)
			req.Slippage = types.MinOutputSlippage(34_009_618_488_154)
			_, err = e.Settle(ctx, req)
			require.NoError(t, err)
			requireUnchanged(t, e, "tok", 1)
		})
	}
}

func TestSettle_SellSlippageRejectedWithoutMutation(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			e := newTestEngine(t, memory.New(), testConfig(mode))
			createToken(t, e, "tok")
			ctx := context.Background()

			bought, err := e.Settle(ctx, buyReq("tok", types.LamportsPerSol))
			require.NoError(t, err)

			// The fee comes out of the SOL paid, so the floor applies to the net payout.
			q, err := e.Quote(ctx, QuoteRequest{TokenID: "tok", TradeType: types.TradeSell, Amount: bought.TokenAmount})
			require.NoError(t, err)
			require.NotZero(t, q.SolAmount)
			require.NotZero(t, q.TotalFee)

			req := sellReq("tok", bought.TokenAmount)
			req.Slippage = types.MinOutputSlippage(q.SolAmount + 1)
			_, err = e.Settle(ctx, req)
			te := requireKind(t, err, types.KindSlippageExceeded)
			assert.Equal(t, q.SolAmount+1, te.Expected)
			assert.Equal(t, q.SolAmount, te.Actual)
			requireUnchanged(t, e, "tok", 1)

			req.Slippage = types.MinOutputSlippage(q.SolAmount)
			res, err := e.Settle(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, q.SolAmount, res.SolAmount)
			assert.Equal(t, q.TotalFee, res.TotalFee)
			requireUnchanged(t, e, "tok", 2)
		})
	}
}

func TestSettle_ToleranceAgainstQuote(t *testing.T) {
	e := newTestEngine(t, memory.New(), testConfig(ModeOptimistic))
	createToken(t, e, "tok")
	ctx := context.Background()

	q, err := e.Quote(ctx, QuoteRequest{TokenID: "tok", TradeType: types.TradeBuy, Amount: 5 * types.LamportsPerSol})
	require.NoError(t, err)
	assert.False(t, q.Success)
	assert.Empty(t, q.LedgerEntryID)
	requireUnchanged(t, e, "tok", 0)

	req := buyReq("tok", 5*types.LamportsPerSol)
	req.Slippage = types.ToleranceSlippage(0, q.TokenAmount)
	res, err := e.Settle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, q.TokenAmount, res.TokenAmount)

	// The same quote is stale now that the price moved.
	_, err = e.Settle(ctx, req)
	requireKind(t, err, types.KindSlippageExceeded)
	requireUnchanged(t, e, "tok", 1)
}

func TestSettle_InvalidRequests(t *testing.T) {
	e := newTestEngine(t, memory.New(), testConfig(ModeActor))
	createToken(t, e, "tok")
	ctx := context.Background()

	tests := []struct {
		name string
		req  TradeRequest
		kind types.ErrorKind
	}{
		{"zero amount", buyReq("tok", 0), types.KindInvalidAmount},
		{"missing token id", buyReq("", 1), types.KindInvalidAmount},
		{"unknown token", buyReq("nope", types.LamportsPerSol), types.KindTokenNotFound},
		{"bad trade type", TradeRequest{TokenID: "tok", TradeType: "hold", Amount: 1}, types.KindInvalidAmount},
		{"bad wallet", TradeRequest{TokenID: "tok", TradeType: types.TradeBuy, Amount: 1, WalletAddress: "0xdeadbeef",
			Slippage: types.MinOutputSlippage(0)}, types.KindInvalidAmount},
		{"bad slippage", TradeRequest{TokenID: "tok", TradeType: types.TradeBuy, Amount: 1,
			Slippage: types.ToleranceSlippage(20_000, 0)}, types.KindInvalidAmount},
		{"exhausts inventory", buyReq("tok", 10_000*types.LamportsPerSol), types.KindInsufficientLiquidity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Settle(ctx, tt.req)
			requireKind(t, err, tt.kind)
		})
	}
	requireUnchanged(t, e, "tok", 0)
}

func TestSettle_GraduationIsSticky(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			bus := events.NewBus(zaptest.NewLogger(t), 16)
			t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })

			graduated := make(chan events.Event, 4)
			bus.SubscribeFunc(events.TokenGraduated, func(_ context.Context, ev events.Event) error {
				graduated <- ev
				return nil
			})

			e := newTestEngine(t, memory.New(), testConfig(mode), WithEvents(bus))
			ctx := context.Background()

			// Enough inventory to raise the full threshold.
			_, err := e.CreateToken(ctx, CreateTokenRequest{
				TokenID: "tok",
				Params:  &curve.Params{CurveTokenReserves: 1_000_000_000 * types.TokenUnit},
			})
			require.NoError(t, err)

			// Net 84.99 SOL after the 180 bps fee.
			res, err := e.Settle(ctx, buyReq("tok", 86_547_861_507))
			require.NoError(t, err)
			assert.Equal(t, uint64(793_062_614_140_360), res.TokenAmount)
			assert.False(t, res.Graduated)
			assert.Equal(t, uint64(84_990_000_000), res.State.SolRaised)

			// Net 0.51 SOL crosses 85 SOL.
			res, err = e.Settle(ctx, buyReq("tok", 519_348_268))
			require.NoError(t, err)
			assert.True(t, res.Graduated)
			assert.Equal(t, uint64(85_500_000_000), res.State.SolRaised)
			assert.NotNil(t, res.State.GraduatedAt)

			entries, err := e.Ledger(ctx, "tok", 0, 0)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.False(t, entries[0].Graduated)
			assert.True(t, entries[1].Graduated)

			select {
			case ev := <-graduated:
				g, ok := ev.(*events.TokenGraduatedEvent)
				require.True(t, ok)
				assert.Equal(t, "tok", g.TokenID)
				assert.Equal(t, uint64(2), g.Version)
				assert.Equal(t, entries[1].ID, g.EntryID)
			case <-time.After(5 * time.Second):
				t.Fatal("no graduation event")
			}

			_, err = e.Settle(ctx, buyReq("tok", types.LamportsPerSol))
			requireKind(t, err, types.KindTokenNotTradable)
			_, err = e.Settle(ctx, sellReq("tok", types.TokenUnit))
			requireKind(t, err, types.KindTokenNotTradable)
			_, err = e.Quote(ctx, QuoteRequest{TokenID: "tok", TradeType: types.TradeBuy, Amount: 1})
			requireKind(t, err, types.KindTokenNotTradable)
			requireUnchanged(t, e, "tok", 2)

			s, err := e.Snapshot(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, s.IsGraduated)

			report, err := e.Reconcile(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, report.Consistent, report.Mismatches)

			select {
			case ev := <-graduated:
				t.Fatalf("unexpected second graduation event %v", ev)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestSettle_DefaultCurveGraduatesNearExhaustion(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			e := newTestEngine(t, memory.New(), testConfig(mode))
			createToken(t, e, "tok")
			ctx := context.Background()

			res, err := e.Settle(ctx, buyReq("tok", 86_547_861_507))
			require.NoError(t, err)
			assert.Equal(t, uint64(84_990_000_000), res.State.SolRaised)
			remaining := res.State.RealTokenReserves
			assert.Equal(t, uint64(37_385_859_640), remaining)

			// The default inventory tops out around 85.005 SOL, so 0.51 SOL no longer fits.
			amount := uint64(519_348_268)
			_, err = e.Settle(ctx, buyReq("tok", amount))
			requireKind(t, err, types.KindInsufficientLiquidity)
			requireUnchanged(t, e, "tok", 1)

			var last *TradeResult
			for i := 0; i < 100 && (last == nil || !last.Graduated); i++ {
				r, err := e.Settle(ctx, buyReq("tok", amount))
				if err != nil {
					require.Equal(t, types.KindInsufficientLiquidity, types.KindOf(err), err)
					amount /= 2
					require.Greater(t, amount, uint64(10_000), "never reached the threshold")
					continue
				}
				last = r
			}

			require.NotNil(t, last)
			require.True(t, last.Graduated)
			assert.GreaterOrEqual(t, last.State.SolRaised, graduation.DefaultThresholdLamports)
			assert.Less(t, last.State.SolRaised, uint64(85_010_000_000))
			assert.Less(t, last.State.RealTokenReserves, remaining)

			_, err = e.Settle(ctx, buyReq("tok", 10_000_000))
			requireKind(t, err, types.KindTokenNotTradable)

			report, err := e.Reconcile(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, report.Consistent, report.Mismatches)
		})
	}
}

func TestSettle_ConcurrentTradesAreLinearizable(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			cfg := testConfig(mode)
			cfg.MaxRetries = 1000
			e := newTestEngine(t, memory.New(), cfg)
			createToken(t, e, "tok")
			ctx := context.Background()

			// Seed inventory so sells can run alongside buys.
			seed, err := e.Settle(ctx, buyReq("tok", 10*types.LamportsPerSol))
			require.NoError(t, err)

			const n = 40
			var g errgroup.Group
			for i := 0; i < n; i++ {
				i := i
				g.Go(func() error {
					req := buyReq("tok", uint64(i+1)*10_000_000)
					if i%4 == 0 {
						req = sellReq("tok", seed.TokenAmount/(2*n))
					}
					_, err := e.Settle(ctx, req)
					return err
				})
			}
			require.NoError(t, g.Wait())

			s, err := e.Snapshot(ctx, "tok")
			require.NoError(t, err)
			assert.Equal(t, uint64(n+1), s.Version)

			entries, err := e.Ledger(ctx, "tok", 0, 0)
			require.NoError(t, err)
			require.Len(t, entries, n+1)
			sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })

			// Replaying the ledger serially reproduces every output and the final state.
			replay, err := curve.NewReserveState("tok", curve.DefaultParams(), s.CreatedAt)
			require.NoError(t, err)
			for i, en := range entries {
				require.Equal(t, uint64(i+1), en.Version)
				req := TradeRequest{
					TokenID:   "tok",
					TradeType: en.TradeType,
					Amount:    en.InputAmount,
					Slippage:  types.SlippageConfig{Type: types.SlippageNone},
				}
				o, err := execute(replay, req, e.Schedule(), e.Policy(), 0, en.CreatedAt)
				require.NoError(t, err)
				require.Equal(t, en.OutputAmount, o.entry.OutputAmount, "entry %d", en.Version)
				replay = o.next
			}
			assert.Equal(t, replay.RealSolReserves, s.RealSolReserves)
			assert.Equal(t, replay.RealTokenReserves, s.RealTokenReserves)
			assert.Equal(t, replay.TokensSold, s.TokensSold)
			assert.Equal(t, replay.SolRaised, s.SolRaised)
			assert.Equal(t, replay.FeesCollected, s.FeesCollected)

			report, err := e.Reconcile(ctx, "tok")
			require.NoError(t, err)
			assert.True(t, report.Consistent, report.Mismatches)
		})
	}
}

func TestSettle_IndependentTokens(t *testing.T) {
	e := newTestEngine(t, memory.New(), testConfig(ModeActor))
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("tok-%d", i)
		createToken(t, e, id)
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				if _, err := e.Settle(ctx, buyReq(id, types.LamportsPerSol)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 8; i++ {
		s, err := e.Snapshot(ctx, fmt.Sprintf("tok-%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(5), s.Version)
	}
}

func TestSettle_RetriesVersionConflicts(t *testing.T) {
	store := newFaultyStore()
	store.conflicts = 3
	e := newTestEngine(t, store, testConfig(ModeOptimistic))
	createToken(t, e, "tok")

	res, err := e.Settle(context.Background(), buyReq("tok", types.LamportsPerSol))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Version)
	assert.Equal(t, uint64(34_009_618_488_154), res.TokenAmount)
	requireUnchanged(t, e, "tok", 1)
}

func TestSettle_ContentionAfterRetriesExhausted(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			store := newFaultyStore()
			store.alwaysClash = true
			cfg := testConfig(mode)
			cfg.MaxRetries = 2
			e := newTestEngine(t, store, cfg)
			createToken(t, e, "tok")

			_, err := e.Settle(context.Background(), buyReq("tok", types.LamportsPerSol))
			requireKind(t, err, types.KindContention)
			assert.True(t, errors.Is(err, types.ErrContention))
			assert.True(t, types.KindContention.Retriable())
			requireUnchanged(t, e, "tok", 0)
		})
	}
}

func TestSettle_PersistenceFailure(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			store := newFaultyStore()
			store.commitErr = errors.New("disk full")
			e := newTestEngine(t, store, testConfig(mode))
			createToken(t, e, "tok")

			_, err := e.Settle(context.Background(), buyReq("tok", types.LamportsPerSol))
			te := requireKind(t, err, types.KindPersistenceFailure)
			assert.ErrorContains(t, te, "disk full")
			requireUnchanged(t, e, "tok", 0)
		})
	}
}

func TestSettle_PanicIsContained(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			store := newFaultyStore()
			var once atomic.Bool
			store.setBeforeCommit(func() {
				if once.CompareAndSwap(false, true) {
					panic("boom")
				}
			})
			e := newTestEngine(t, store, testConfig(mode))
			createToken(t, e, "tok")
			ctx := context.Background()

			_, err := e.Settle(ctx, buyReq("tok", types.LamportsPerSol))
			requireKind(t, err, types.KindPersistenceFailure)
			requireUnchanged(t, e, "tok", 0)

			// The engine keeps serving the token afterwards.
			res, err := e.Settle(ctx, buyReq("tok", types.LamportsPerSol))
			require.NoError(t, err)
			assert.Equal(t, uint64(1), res.Version)
		})
	}
}

func TestSettle_Discount(t *testing.T) {
	store := memory.New()
	cache := achievement.NewCache(store, time.Minute, types.BpsDenominator, zaptest.NewLogger(t))
	e := newTestEngine(t, store, testConfig(ModeActor), WithDiscounts(cache))
	createToken(t, e, "tok")
	ctx := context.Background()

	applied, err := e.UpdateDiscount(ctx, "tok", 30)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), applied)

	res, err := e.Settle(ctx, buyReq("tok", types.LamportsPerSol))
	require.NoError(t, err)
	assert.Equal(t, uint32(150), res.EffectiveFeeBps)
	assert.Equal(t, uint32(30), res.AchievementDiscountBps)
	assert.Equal(t, uint64(15_000_000), res.TotalFee)
	assert.Equal(t, uint32(30), res.State.FeeDiscountBps)

	// Discounts beyond the cap are clamped.
	applied, err = e.UpdateDiscount(ctx, "tok", 500)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), applied)

	res, err = e.Settle(ctx, buyReq("tok", types.LamportsPerSol))
	require.NoError(t, err)
	assert.Equal(t, uint32(130), res.EffectiveFeeBps)

	_, err = e.UpdateDiscount(ctx, "missing", 10)
	requireKind(t, err, types.KindTokenNotFound)
	_, err = e.UpdateDiscount(ctx, "tok", 10_001)
	requireKind(t, err, types.KindInvalidAmount)
}

func TestQuote_MatchesSettlement(t *testing.T) {
	e := newTestEngine(t, memory.New(), testConfig(ModeActor))
	createToken(t, e, "tok")
	ctx := context.Background()

	q, err := e.Quote(ctx, QuoteRequest{TokenID: "tok", TradeType: types.TradeBuy, Amount: types.LamportsPerSol})
	require.NoError(t, err)
	assert.Equal(t, uint64(34_009_618_488_154), q.TokenAmount)
	assert.Equal(t, uint64(1), q.Version)
	requireUnchanged(t, e, "tok", 0)

	_, err = e.Quote(ctx, QuoteRequest{TokenID: "tok", TradeType: types.TradeSell, Amount: 1})
	requireKind(t, err, types.KindInsufficientLiquidity)
	_, err = e.Quote(ctx, QuoteRequest{TokenID: "nope", TradeType: types.TradeBuy, Amount: 1})
	requireKind(t, err, types.KindTokenNotFound)
}

func TestCreateToken(t *testing.T) {
	e := newTestEngine(t, memory.New(), testConfig(ModeActor))
	ctx := context.Background()

	s, err := e.CreateToken(ctx, CreateTokenRequest{
		MintAddress:   "So11111111111111111111111111111111111111112",
		CreatorWallet: "11111111111111111111111111111111",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, s.TokenID)
	assert.True(t, s.IsActive)
	assert.Equal(t, uint64(0), s.Version)
	assert.Equal(t, curve.DefaultParams().CurveTokenReserves, s.RealTokenReserves)

	_, err = e.CreateToken(ctx, CreateTokenRequest{TokenID: s.TokenID})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = e.CreateToken(ctx, CreateTokenRequest{TokenID: "x", MintAddress: "not-base58!"})
	requireKind(t, err, types.KindInvalidAmount)

	_, err = e.CreateToken(ctx, CreateTokenRequest{
		TokenID: "y",
		Params:  &curve.Params{CurveTokenReserves: 2_000_000_000 * types.TokenUnit},
	})
	requireKind(t, err, types.KindInvalidAmount)
}

func TestEngine_CloseRejectsNewWork(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			e, err := New(memory.New(), fee.DefaultSchedule(), graduation.DefaultPolicy(), testConfig(mode), zaptest.NewLogger(t))
			require.NoError(t, err)
			createToken(t, e, "tok")

			_, err = e.Settle(context.Background(), buyReq("tok", types.LamportsPerSol))
			require.NoError(t, err)

			require.NoError(t, e.Close(context.Background()))
			require.NoError(t, e.Close(context.Background()))

			_, err = e.Settle(context.Background(), buyReq("tok", types.LamportsPerSol))
			require.ErrorIs(t, err, ErrEngineClosed)
			_, err = e.CreateToken(context.Background(), CreateTokenRequest{TokenID: "other"})
			require.ErrorIs(t, err, ErrEngineClosed)
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	log := zaptest.NewLogger(t)

	cfg := testConfig("parallel")
	_, err := New(memory.New(), fee.DefaultSchedule(), graduation.DefaultPolicy(), cfg, log)
	assert.Error(t, err)

	sched := fee.DefaultSchedule()
	sched.MinFeeBps = 1_000
	_, err = New(memory.New(), sched, graduation.DefaultPolicy(), testConfig(ModeActor), log)
	assert.Error(t, err)

	_, err = New(memory.New(), fee.DefaultSchedule(), graduation.Policy{}, testConfig(ModeActor), log)
	assert.Error(t, err)

	_, err = New(memory.New(), fee.DefaultSchedule(), graduation.DefaultPolicy(), testConfig(ModeActor), log,
		WithCurveParams(curve.Params{}))
	assert.Error(t, err)
}
