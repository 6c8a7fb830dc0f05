// internal/ledger/ledger.go
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// Entry is the immutable audit record of one settled trade.
//
// CurveSolDelta and CurveTokenDelta are the signed changes to the curve's real
// reserves. InputAmount is what the trader paid in, OutputAmount what they
// received net of fees.
type Entry struct {
	ID              string          `json:"id"`
	TokenID         string          `json:"tokenId"`
	Wallet          string          `json:"wallet"`
	TradeType       types.TradeType `json:"tradeType"`
	InputAmount     uint64          `json:"inputAmount"`
	OutputAmount    uint64          `json:"outputAmount"`
	CurveSolDelta   int64           `json:"curveSolDelta"`
	CurveTokenDelta int64           `json:"curveTokenDelta"`
	PricePerToken   float64         `json:"pricePerToken"`
	Fee             fee.Breakdown   `json:"fee"`
	SlippageBps     uint64          `json:"slippageBps"`
	Version         uint64          `json:"version"`
	Graduated       bool            `json:"graduated"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// NewID returns a fresh entry id.
func NewID() string {
	return uuid.NewString()
}

// GrossSol is the lamport amount the trade moved before fees.
func (e *Entry) GrossSol() uint64 {
	if e.TradeType == types.TradeBuy {
		return e.InputAmount
	}
	return e.OutputAmount + e.Fee.Total
}

// TokenAmount is the token side of the trade.
func (e *Entry) TokenAmount() uint64 {
	if e.TradeType == types.TradeBuy {
		return e.OutputAmount
	}
	return e.InputAmount
}

// Report is the result of reconciling a ledger against a reserve state.
type Report struct {
	TokenID    string   `json:"tokenId"`
	Entries    int      `json:"entries"`
	Consistent bool     `json:"consistent"`
	Mismatches []string `json:"mismatches,omitempty"`

	RealSolReserves   uint64 `json:"realSolReserves"`
	RealTokenReserves uint64 `json:"realTokenReserves"`
	TokensSold        uint64 `json:"tokensSold"`
	SolRaised         uint64 `json:"solRaised"`
	FeesCollected     uint64 `json:"feesCollected"`
}

// Err returns a descriptive error if the report found mismatches.
func (r *Report) Err() error {
	if r.Consistent {
		return nil
	}
	return fmt.Errorf("ledger for token %s does not reconcile: %s", r.TokenID, strings.Join(r.Mismatches, "; "))
}

// Reconcile replays entries from the creation state of s and compares the
// result with s. Entries may be passed in any order.
func Reconcile(s *curve.ReserveState, entries []Entry) *Report {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	r := &Report{TokenID: s.TokenID, Entries: len(sorted)}
	mismatch := func(format string, args ...interface{}) {
		r.Mismatches = append(r.Mismatches, fmt.Sprintf(format, args...))
	}

	var (
		sol, tok, sold     int64
		raised, volume     uint64
		fees, creatorFees  uint64
		graduatedAtVersion uint64
	)
	tok = int64(s.CurveTokenReserves)

	for i, e := range sorted {
		if e.TokenID != s.TokenID {
			mismatch("entry %s belongs to token %s", e.ID, e.TokenID)
		}
		if want := uint64(i + 1); e.Version != want {
			mismatch("entry %s has version %d, expected %d", e.ID, e.Version, want)
		}
		if e.Fee.Sum() != e.Fee.Total {
			mismatch("entry %s fee buckets sum to %d, total %d", e.ID, e.Fee.Sum(), e.Fee.Total)
		}

		sol += e.CurveSolDelta
		tok += e.CurveTokenDelta
		sold -= e.CurveTokenDelta
		if e.TradeType == types.TradeBuy && e.CurveSolDelta > 0 {
			raised += uint64(e.CurveSolDelta)
		}
		volume += e.GrossSol()
		fees += e.Fee.Total
		creatorFees += e.Fee.Creator

		if sol < 0 || tok < 0 || sold < 0 {
			mismatch("reserves negative after entry %s (version %d)", e.ID, e.Version)
		}
		if e.Graduated && graduatedAtVersion == 0 {
			graduatedAtVersion = e.Version
		}
		if graduatedAtVersion != 0 && e.Version > graduatedAtVersion {
			mismatch("entry %s traded after graduation at version %d", e.ID, graduatedAtVersion)
		}
	}

	r.RealSolReserves = uint64(max(sol, 0))
	r.RealTokenReserves = uint64(max(tok, 0))
	r.TokensSold = uint64(max(sold, 0))
	r.SolRaised = raised
	r.FeesCollected = fees

	check := func(field string, replayed, stored uint64) {
		if replayed != stored {
			mismatch("%s: ledger %d, state %d", field, replayed, stored)
		}
	}
	check("real_sol_reserves", r.RealSolReserves, s.RealSolReserves)
	check("real_token_reserves", r.RealTokenReserves, s.RealTokenReserves)
	check("tokens_sold", r.TokensSold, s.TokensSold)
	check("sol_raised", raised, s.SolRaised)
	check("version", uint64(len(sorted)), s.Version)
	check("trade_count", uint64(len(sorted)), s.TradeCount)
	check("volume", volume, s.VolumeLamports)
	check("fees_collected", fees, s.FeesCollected)
	check("creator_fees_pending", creatorFees, s.CreatorFeesPending)
	if (graduatedAtVersion != 0) != s.IsGraduated {
		mismatch("graduated: ledger %t, state %t", graduatedAtVersion != 0, s.IsGraduated)
	}

	r.Consistent = len(r.Mismatches) == 0
	return r
}
