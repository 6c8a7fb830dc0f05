// internal/settlement/trade.go
package settlement

import (
	"time"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// TradeRequest is one buy or sell against a curve.
// Amount is lamports for a buy and token base units for a sell.
type TradeRequest struct {
	TokenID       string               `json:"tokenId"`
	TradeType     types.TradeType      `json:"tradeType"`
	Amount        uint64               `json:"amount"`
	WalletAddress string               `json:"walletAddress"`
	Slippage      types.SlippageConfig `json:"slippage"`
}

// Validate checks the request shape before any state is read.
func (r TradeRequest) Validate() error {
	if r.TokenID == "" {
		return types.NewTradeError(types.KindInvalidAmount, "token id is required")
	}
	if r.TradeType != types.TradeBuy && r.TradeType != types.TradeSell {
		return types.NewTradeError(types.KindInvalidAmount, "invalid trade type %q", r.TradeType)
	}
	if r.Amount == 0 {
		return types.NewTradeError(types.KindInvalidAmount, "amount must be positive")
	}
	if r.WalletAddress != "" {
		if err := types.ValidateAddress(r.WalletAddress); err != nil {
			return types.NewTradeError(types.KindInvalidAmount, "invalid wallet address").WithCause(err)
		}
	}
	return r.Slippage.Validate()
}

// FeeSplit is the per-bucket fee of a trade.
type FeeSplit struct {
	Platform  uint64 `json:"platform"`
	Creator   uint64 `json:"creator"`
	Liquidity uint64 `json:"liquidity"`
	PrizePool uint64 `json:"prizePool"`
}

// TradeResult is returned for a settled trade.
//
// For a buy SolAmount is the lamports paid and TokenAmount the tokens received.
// For a sell TokenAmount is the tokens paid and SolAmount the lamports received net of fees.
type TradeResult struct {
	Success                bool     `json:"success"`
	TokenAmount            uint64   `json:"tokenAmount"`
	SolAmount              uint64   `json:"solAmount"`
	PricePerToken          float64  `json:"pricePerToken"`
	Fees                   FeeSplit `json:"fees"`
	TotalFee               uint64   `json:"totalFee"`
	EffectiveFeeBps        uint32   `json:"effectiveFeeBps"`
	AchievementDiscountBps uint32   `json:"achievementDiscountBps"`
	PriceImpactBps         uint64   `json:"priceImpactBps"`
	Graduated              bool     `json:"graduated"`
	LedgerEntryID          string   `json:"ledgerEntryId,omitempty"`
	Version                uint64   `json:"version"`

	State *curve.ReserveState `json:"state,omitempty"`
}

// outcome is a fully computed, not yet committed trade.
type outcome struct {
	expectedVersion uint64
	next            *curve.ReserveState
	entry           *ledger.Entry
	result          *TradeResult
	graduated       bool
}

// execute prices req against cur and builds the next state and ledger entry.
// cur is not modified. Any error leaves nothing to commit.
func execute(
	cur *curve.ReserveState,
	req TradeRequest,
	schedule fee.Schedule,
	policy graduation.Policy,
	discountBps uint32,
	now time.Time,
) (*outcome, error) {
	if !cur.Tradable() {
		reason := "inactive"
		if cur.IsGraduated {
			reason = "graduated"
		}
		return nil, types.NewTradeError(types.KindTokenNotTradable, "token %s is %s", cur.TokenID, reason).
			WithReserves(cur.Context())
	}

	next := cur.Clone()
	entry := &ledger.Entry{
		ID:          ledger.NewID(),
		TokenID:     cur.TokenID,
		Wallet:      req.WalletAddress,
		TradeType:   req.TradeType,
		InputAmount: req.Amount,
		CreatedAt:   now,
	}

	var (
		breakdown     fee.Breakdown
		actual        uint64
		spotExpected  uint64
		grossSol      uint64
		tokenAmount   uint64
		solAmount     uint64
		realizedPrice float64
	)

	switch req.TradeType {
	case types.TradeBuy:
		breakdown = schedule.Compute(discountBps, req.Amount)
		net := req.Amount - breakdown.Total
		if net == 0 {
			return nil, types.NewTradeError(types.KindInvalidAmount,
				"amount %d does not cover the %d bps fee", req.Amount, breakdown.EffectiveBps).
				WithReserves(cur.Context())
		}
		out, err := curve.QuoteBuy(cur, net)
		if err != nil {
			return nil, err
		}
		actual = out
		spotExpected = curve.SpotBuyOutput(cur, net)

		next.RealSolReserves += net
		next.RealTokenReserves -= out
		next.TokensSold += out
		next.SolRaised += net

		entry.OutputAmount = out
		entry.CurveSolDelta = int64(net)
		entry.CurveTokenDelta = -int64(out)

		grossSol = req.Amount
		tokenAmount, solAmount = out, req.Amount
		realizedPrice = curve.RealizedPrice(req.Amount, out).InexactFloat64()

	case types.TradeSell:
		gross, err := curve.QuoteSell(cur, req.Amount)
		if err != nil {
			return nil, err
		}
		breakdown = schedule.Compute(discountBps, gross)
		net := gross - breakdown.Total
		if net == 0 {
			return nil, types.NewTradeError(types.KindInsufficientLiquidity,
				"sell of %d tokens yields nothing after fees", req.Amount).
				WithReserves(cur.Context())
		}
		actual = net
		spot := curve.SpotSellOutput(cur, req.Amount)
		spotExpected = spot - schedule.Compute(discountBps, spot).Total

		next.RealSolReserves -= gross
		next.RealTokenReserves += req.Amount
		next.TokensSold -= req.Amount

		entry.OutputAmount = net
		entry.CurveSolDelta = -int64(gross)
		entry.CurveTokenDelta = int64(req.Amount)

		grossSol = gross
		tokenAmount, solAmount = req.Amount, net
		realizedPrice = curve.RealizedPrice(net, req.Amount).InexactFloat64()

	default:
		return nil, types.NewTradeError(types.KindInvalidAmount, "invalid trade type %q", req.TradeType)
	}

	if err := types.CheckSlippage(req.Slippage, spotExpected, actual); err != nil {
		if te, ok := err.(*types.TradeError); ok {
			te.WithReserves(cur.Context())
		}
		return nil, err
	}

	next.Version = cur.Version + 1
	next.TradeCount++
	next.VolumeLamports += grossSol
	next.FeesCollected += breakdown.Total
	next.CreatorFeesPending += breakdown.Creator
	next.FeeDiscountBps = breakdown.DiscountBps
	next.UpdatedAt = now
	next.RefreshDisplay()

	graduated := policy.Evaluate(next, now)

	if err := next.CheckInvariants(); err != nil {
		return nil, types.NewTradeError(types.KindInsufficientLiquidity, "trade would break curve invariants").
			WithReserves(cur.Context()).
			WithCause(err)
	}

	impact := types.DeviationBps(spotExpected, actual)
	entry.PricePerToken = realizedPrice
	entry.Fee = breakdown
	entry.SlippageBps = impact
	entry.Version = next.Version
	entry.Graduated = graduated

	result := &TradeResult{
		Success:       true,
		TokenAmount:   tokenAmount,
		SolAmount:     solAmount,
		PricePerToken: realizedPrice,
		Fees: FeeSplit{
			Platform:  breakdown.Platform,
			Creator:   breakdown.Creator,
			Liquidity: breakdown.Liquidity,
			PrizePool: breakdown.PrizePool,
		},
		TotalFee:               breakdown.Total,
		EffectiveFeeBps:        breakdown.EffectiveBps,
		AchievementDiscountBps: breakdown.DiscountBps,
		PriceImpactBps:         impact,
		Graduated:              next.IsGraduated,
		LedgerEntryID:          entry.ID,
		Version:                next.Version,
		State:                  next.Clone(),
	}

	return &outcome{
		expectedVersion: cur.Version,
		next:            next,
		entry:           entry,
		result:          result,
		graduated:       graduated,
	}, nil
}
