// internal/fee/fee.go
package fee

import (
	"fmt"
	"math/big"

	"github.com/thecyberginehost/moonforge/internal/types"
)

// Schedule holds the bucket weights and bounds of the trading fee.
// The base fee is the sum of the four bucket weights.
type Schedule struct {
	PlatformBps    uint32 `mapstructure:"platform_bps" json:"platformBps"`
	CreatorBps     uint32 `mapstructure:"creator_bps" json:"creatorBps"`
	LiquidityBps   uint32 `mapstructure:"liquidity_bps" json:"liquidityBps"`
	PrizePoolBps   uint32 `mapstructure:"prize_pool_bps" json:"prizePoolBps"`
	MinFeeBps      uint32 `mapstructure:"min_fee_bps" json:"minFeeBps"`
	MaxDiscountBps uint32 `mapstructure:"max_discount_bps" json:"maxDiscountBps"`
}

// Breakdown is the fee charged on one trade.
type Breakdown struct {
	Total        uint64 `json:"total"`
	Platform     uint64 `json:"platform"`
	Creator      uint64 `json:"creator"`
	Liquidity    uint64 `json:"liquidity"`
	PrizePool    uint64 `json:"prizePool"`
	EffectiveBps uint32 `json:"effectiveBps"`
	DiscountBps  uint32 `json:"discountBps"`
}

// DefaultSchedule is 1% platform, 0.5% creator, 0.2% liquidity, 0.1% prize pool.
func DefaultSchedule() Schedule {
	return Schedule{
		PlatformBps:    100,
		CreatorBps:     50,
		LiquidityBps:   20,
		PrizePoolBps:   10,
		MinFeeBps:      50,
		MaxDiscountBps: 50,
	}
}

// BaseBps returns the undiscounted fee rate.
func (s Schedule) BaseBps() uint32 {
	return s.PlatformBps + s.CreatorBps + s.LiquidityBps + s.PrizePoolBps
}

// Validate checks the schedule for consistency.
func (s Schedule) Validate() error {
	base := s.BaseBps()
	if base > types.BpsDenominator {
		return fmt.Errorf("base fee %d bps exceeds 100%%", base)
	}
	if s.MinFeeBps > base {
		return fmt.Errorf("min fee %d bps exceeds base fee %d bps", s.MinFeeBps, base)
	}
	if s.MaxDiscountBps > base {
		return fmt.Errorf("max discount %d bps exceeds base fee %d bps", s.MaxDiscountBps, base)
	}
	return nil
}

// ClampDiscount limits a requested discount to MaxDiscountBps.
func (s Schedule) ClampDiscount(discountBps uint32) uint32 {
	if discountBps > s.MaxDiscountBps {
		return s.MaxDiscountBps
	}
	return discountBps
}

// EffectiveBps is max(base - clamped discount, MinFeeBps).
func (s Schedule) EffectiveBps(discountBps uint32) uint32 {
	base := s.BaseBps()
	d := s.ClampDiscount(discountBps)
	eff := uint32(0)
	if d < base {
		eff = base - d
	}
	if eff < s.MinFeeBps {
		eff = s.MinFeeBps
	}
	return eff
}

// Compute splits the fee on gross into the four buckets.
// Buckets are rounded down; the remainder goes to the platform so they sum to Total.
func (s Schedule) Compute(discountBps uint32, gross uint64) Breakdown {
	eff := s.EffectiveBps(discountBps)
	b := Breakdown{
		EffectiveBps: eff,
		DiscountBps:  s.ClampDiscount(discountBps),
	}

	b.Total = mulDiv(gross, uint64(eff), types.BpsDenominator)
	base := uint64(s.BaseBps())
	if base == 0 || b.Total == 0 {
		b.Platform = b.Total
		return b
	}

	b.Creator = mulDiv(b.Total, uint64(s.CreatorBps), base)
	b.Liquidity = mulDiv(b.Total, uint64(s.LiquidityBps), base)
	b.PrizePool = mulDiv(b.Total, uint64(s.PrizePoolBps), base)
	b.Platform = b.Total - b.Creator - b.Liquidity - b.PrizePool
	return b
}

// Sum returns the sum of the four buckets.
func (b Breakdown) Sum() uint64 {
	return b.Platform + b.Creator + b.Liquidity + b.PrizePool
}

// mulDiv returns floor(a*b/c) without intermediate overflow.
func mulDiv(a, b, c uint64) uint64 {
	r := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	return r.Quo(r, new(big.Int).SetUint64(c)).Uint64()
}
