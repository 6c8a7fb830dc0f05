// internal/storage/models/token.go
package models

import (
	"time"

	"github.com/thecyberginehost/moonforge/internal/curve"
)

// Token is the persisted reserve state of one curve.
type Token struct {
	BaseModel
	TokenID       string `gorm:"uniqueIndex;not null;type:varchar(64)"`
	MintAddress   string `gorm:"index;type:varchar(44)"`
	CreatorWallet string `gorm:"index;type:varchar(44)"`

	VirtualSolReserves   uint64 `gorm:"not null"`
	VirtualTokenReserves uint64 `gorm:"not null"`
	RealSolReserves      uint64 `gorm:"not null;default:0"`
	RealTokenReserves    uint64 `gorm:"not null"`
	TokenSupply          uint64 `gorm:"not null"`
	CurveTokenReserves   uint64 `gorm:"not null"`
	TokensSold           uint64 `gorm:"not null;default:0"`
	SolRaised            uint64 `gorm:"not null;default:0"`

	CurrentPrice float64 `gorm:"type:double precision"`
	MarketCap    float64 `gorm:"type:double precision"`

	FeeDiscountBps uint32 `gorm:"not null;default:0"`
	IsActive       bool   `gorm:"not null;index"`
	IsGraduated    bool   `gorm:"not null;index"`
	Version        uint64 `gorm:"not null;default:0"`

	TradeCount         uint64 `gorm:"not null;default:0"`
	VolumeLamports     uint64 `gorm:"not null;default:0"`
	FeesCollected      uint64 `gorm:"not null;default:0"`
	CreatorFeesPending uint64 `gorm:"not null;default:0"`

	GraduatedAt *time.Time
}

// TokenFromState maps a reserve state to its row.
func TokenFromState(s *curve.ReserveState) *Token {
	return &Token{
		BaseModel:            BaseModel{CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt},
		TokenID:              s.TokenID,
		MintAddress:          s.MintAddress,
		CreatorWallet:        s.CreatorWallet,
		VirtualSolReserves:   s.VirtualSolReserves,
		VirtualTokenReserves: s.VirtualTokenReserves,
		RealSolReserves:      s.RealSolReserves,
		RealTokenReserves:    s.RealTokenReserves,
		TokenSupply:          s.TokenSupply,
		CurveTokenReserves:   s.CurveTokenReserves,
		TokensSold:           s.TokensSold,
		SolRaised:            s.SolRaised,
		CurrentPrice:         s.CurrentPrice,
		MarketCap:            s.MarketCap,
		FeeDiscountBps:       s.FeeDiscountBps,
		IsActive:             s.IsActive,
		IsGraduated:          s.IsGraduated,
		Version:              s.Version,
		TradeCount:           s.TradeCount,
		VolumeLamports:       s.VolumeLamports,
		FeesCollected:        s.FeesCollected,
		CreatorFeesPending:   s.CreatorFeesPending,
		GraduatedAt:          s.GraduatedAt,
	}
}

// State maps the row back to a reserve state.
func (t *Token) State() *curve.ReserveState {
	return &curve.ReserveState{
		TokenID:              t.TokenID,
		MintAddress:          t.MintAddress,
		CreatorWallet:        t.CreatorWallet,
		VirtualSolReserves:   t.VirtualSolReserves,
		VirtualTokenReserves: t.VirtualTokenReserves,
		RealSolReserves:      t.RealSolReserves,
		RealTokenReserves:    t.RealTokenReserves,
		TokenSupply:          t.TokenSupply,
		CurveTokenReserves:   t.CurveTokenReserves,
		TokensSold:           t.TokensSold,
		SolRaised:            t.SolRaised,
		CurrentPrice:         t.CurrentPrice,
		MarketCap:            t.MarketCap,
		FeeDiscountBps:       t.FeeDiscountBps,
		IsActive:             t.IsActive,
		IsGraduated:          t.IsGraduated,
		Version:              t.Version,
		TradeCount:           t.TradeCount,
		VolumeLamports:       t.VolumeLamports,
		FeesCollected:        t.FeesCollected,
		CreatorFeesPending:   t.CreatorFeesPending,
		GraduatedAt:          t.GraduatedAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

// TradeUpdates returns the columns a settled trade may change.
// A map is used so zero values (e.g. IsActive=false) are written.
func TradeUpdates(s *curve.ReserveState) map[string]interface{} {
	return map[string]interface{}{
		"real_sol_reserves":    s.RealSolReserves,
		"real_token_reserves":  s.RealTokenReserves,
		"tokens_sold":          s.TokensSold,
		"sol_raised":           s.SolRaised,
		"current_price":        s.CurrentPrice,
		"market_cap":           s.MarketCap,
		"fee_discount_bps":     s.FeeDiscountBps,
		"is_active":            s.IsActive,
		"is_graduated":         s.IsGraduated,
		"version":              s.Version,
		"trade_count":          s.TradeCount,
		"volume_lamports":      s.VolumeLamports,
		"fees_collected":       s.FeesCollected,
		"creator_fees_pending": s.CreatorFeesPending,
		"graduated_at":         s.GraduatedAt,
		"updated_at":           s.UpdatedAt,
	}
}
