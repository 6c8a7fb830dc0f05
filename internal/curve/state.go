// internal/curve/state.go
package curve

import (
	"fmt"
	"time"

	"github.com/thecyberginehost/moonforge/internal/types"
)

// ReserveState is the authoritative per-token curve state.
// Virtual reserves shape the price curve and are never touched by trades.
// CurveTokenReserves is the inventory the curve started with, so
// RealTokenReserves + TokensSold always equals it.
type ReserveState struct {
	TokenID       string `json:"tokenId"`
	MintAddress   string `json:"mintAddress,omitempty"`
	CreatorWallet string `json:"creatorWallet,omitempty"`

	VirtualSolReserves   uint64 `json:"virtualSolReserves"`
	VirtualTokenReserves uint64 `json:"virtualTokenReserves"`
	RealSolReserves      uint64 `json:"realSolReserves"`
	RealTokenReserves    uint64 `json:"realTokenReserves"`
	TokenSupply          uint64 `json:"tokenSupply"`
	CurveTokenReserves   uint64 `json:"curveTokenReserves"`
	TokensSold           uint64 `json:"tokensSold"`
	SolRaised            uint64 `json:"solRaised"`

	// Display only, never fed back into pricing.
	CurrentPrice float64 `json:"currentPrice"`
	MarketCap    float64 `json:"marketCap"`

	FeeDiscountBps uint32 `json:"feeDiscountBps"`
	IsActive       bool   `json:"isActive"`
	IsGraduated    bool   `json:"isGraduated"`
	Version        uint64 `json:"version"`

	TradeCount         uint64 `json:"tradeCount"`
	VolumeLamports     uint64 `json:"volumeLamports"`
	FeesCollected      uint64 `json:"feesCollected"`
	CreatorFeesPending uint64 `json:"creatorFeesPending"`

	GraduatedAt *time.Time `json:"graduatedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Params are the creation-time constants of a curve.
type Params struct {
	VirtualSolReserves   uint64 `mapstructure:"virtual_sol_lamports" json:"virtualSolReserves"`
	VirtualTokenReserves uint64 `mapstructure:"virtual_token_units" json:"virtualTokenReserves"`
	CurveTokenReserves   uint64 `mapstructure:"curve_token_units" json:"curveTokenReserves"`
	TokenSupply          uint64 `mapstructure:"token_supply_units" json:"tokenSupply"`
}

// DefaultParams mirrors the launch parameters used by the platform:
// 30 SOL / 1.073B virtual, 793.1M tokens on the curve, 1B supply.
func DefaultParams() Params {
	return Params{
		VirtualSolReserves:   30 * types.LamportsPerSol,
		VirtualTokenReserves: 1_073_000_000 * types.TokenUnit,
		CurveTokenReserves:   793_100_000 * types.TokenUnit,
		TokenSupply:          1_000_000_000 * types.TokenUnit,
	}
}

// Validate checks the creation parameters.
func (p Params) Validate() error {
	if p.VirtualSolReserves == 0 || p.VirtualTokenReserves == 0 {
		return fmt.Errorf("virtual reserves must be positive")
	}
	if p.CurveTokenReserves == 0 {
		return fmt.Errorf("curve token reserves must be positive")
	}
	if p.VirtualTokenReserves <= p.CurveTokenReserves {
		return fmt.Errorf("virtual token reserves %d must exceed curve reserves %d", p.VirtualTokenReserves, p.CurveTokenReserves)
	}
	if p.TokenSupply < p.CurveTokenReserves {
		return fmt.Errorf("token supply %d below curve reserves %d", p.TokenSupply, p.CurveTokenReserves)
	}
	return nil
}

// NewReserveState initializes a fresh, active curve.
func NewReserveState(tokenID string, p Params, now time.Time) (*ReserveState, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("token id is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &ReserveState{
		TokenID:              tokenID,
		VirtualSolReserves:   p.VirtualSolReserves,
		VirtualTokenReserves: p.VirtualTokenReserves,
		RealTokenReserves:    p.CurveTokenReserves,
		CurveTokenReserves:   p.CurveTokenReserves,
		TokenSupply:          p.TokenSupply,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	s.RefreshDisplay()
	return s, nil
}

// Clone returns a deep copy.
func (s *ReserveState) Clone() *ReserveState {
	c := *s
	if s.GraduatedAt != nil {
		t := *s.GraduatedAt
		c.GraduatedAt = &t
	}
	return &c
}

// Tradable reports whether the curve still accepts trades.
func (s *ReserveState) Tradable() bool {
	return s.IsActive && !s.IsGraduated
}

// Context returns the reserve fields for error reporting.
func (s *ReserveState) Context() types.ReserveContext {
	return types.ReserveContext{
		VirtualSolReserves:   s.VirtualSolReserves,
		VirtualTokenReserves: s.VirtualTokenReserves,
		RealSolReserves:      s.RealSolReserves,
		RealTokenReserves:    s.RealTokenReserves,
	}
}

// RefreshDisplay recomputes CurrentPrice and MarketCap.
func (s *ReserveState) RefreshDisplay() {
	price := SpotPrice(s)
	s.CurrentPrice = price.InexactFloat64()
	s.MarketCap = MarketCap(s, price).InexactFloat64()
}

// CheckInvariants verifies the structural invariants of a state.
func (s *ReserveState) CheckInvariants() error {
	if s.VirtualSolReserves == 0 || s.VirtualTokenReserves == 0 {
		return fmt.Errorf("token %s: virtual reserves must be positive", s.TokenID)
	}
	if s.TokensSold > s.TokenSupply {
		return fmt.Errorf("token %s: tokens sold %d exceeds supply %d", s.TokenID, s.TokensSold, s.TokenSupply)
	}
	if s.RealTokenReserves > s.TokenSupply {
		return fmt.Errorf("token %s: real token reserves %d exceed supply %d", s.TokenID, s.RealTokenReserves, s.TokenSupply)
	}
	if s.RealTokenReserves+s.TokensSold != s.CurveTokenReserves {
		return fmt.Errorf("token %s: real token reserves %d + sold %d differ from curve inventory %d",
			s.TokenID, s.RealTokenReserves, s.TokensSold, s.CurveTokenReserves)
	}
	if s.CreatorFeesPending > s.FeesCollected {
		return fmt.Errorf("token %s: creator fees %d exceed collected fees %d", s.TokenID, s.CreatorFeesPending, s.FeesCollected)
	}
	return nil
}
