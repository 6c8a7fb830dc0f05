// internal/storage/models/ledger.go
package models

import (
	"time"

	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// LedgerEntry is one settled trade. Rows are insert-only.
// (token_id, version) is unique so a lost CAS can never append twice.
type LedgerEntry struct {
	ID              uint      `gorm:"primarykey"`
	EntryID         string    `gorm:"uniqueIndex;not null;type:varchar(36)"`
	TokenID         string    `gorm:"uniqueIndex:idx_ledger_token_version;not null;type:varchar(64)"`
	Version         uint64    `gorm:"uniqueIndex:idx_ledger_token_version;not null"`
	Wallet          string    `gorm:"index;type:varchar(44)"`
	TradeType       string    `gorm:"not null;type:varchar(8)"`
	InputAmount     uint64    `gorm:"not null"`
	OutputAmount    uint64    `gorm:"not null"`
	CurveSolDelta   int64     `gorm:"not null"`
	CurveTokenDelta int64     `gorm:"not null"`
	PricePerToken   float64   `gorm:"type:double precision"`
	FeeTotal        uint64    `gorm:"not null"`
	FeePlatform     uint64    `gorm:"not null"`
	FeeCreator      uint64    `gorm:"not null"`
	FeeLiquidity    uint64    `gorm:"not null"`
	FeePrizePool    uint64    `gorm:"not null"`
	EffectiveFeeBps uint32    `gorm:"not null"`
	DiscountBps     uint32    `gorm:"not null"`
	SlippageBps     uint64    `gorm:"not null"`
	Graduated       bool      `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null;index"`
}

// LedgerEntryFrom maps a ledger entry to its row.
func LedgerEntryFrom(e *ledger.Entry) *LedgerEntry {
	return &LedgerEntry{
		EntryID:         e.ID,
		TokenID:         e.TokenID,
		Version:         e.Version,
		Wallet:          e.Wallet,
		TradeType:       string(e.TradeType),
		InputAmount:     e.InputAmount,
		OutputAmount:    e.OutputAmount,
		CurveSolDelta:   e.CurveSolDelta,
		CurveTokenDelta: e.CurveTokenDelta,
		PricePerToken:   e.PricePerToken,
		FeeTotal:        e.Fee.Total,
		FeePlatform:     e.Fee.Platform,
		FeeCreator:      e.Fee.Creator,
		FeeLiquidity:    e.Fee.Liquidity,
		FeePrizePool:    e.Fee.PrizePool,
		EffectiveFeeBps: e.Fee.EffectiveBps,
		DiscountBps:     e.Fee.DiscountBps,
		SlippageBps:     e.SlippageBps,
		Graduated:       e.Graduated,
		CreatedAt:       e.CreatedAt,
	}
}

// Entry maps the row back to a ledger entry.
func (m *LedgerEntry) Entry() ledger.Entry {
	return ledger.Entry{
		ID:              m.EntryID,
		TokenID:         m.TokenID,
		Wallet:          m.Wallet,
		TradeType:       types.TradeType(m.TradeType),
		InputAmount:     m.InputAmount,
		OutputAmount:    m.OutputAmount,
		CurveSolDelta:   m.CurveSolDelta,
		CurveTokenDelta: m.CurveTokenDelta,
		PricePerToken:   m.PricePerToken,
		Fee: fee.Breakdown{
			Total:        m.FeeTotal,
			Platform:     m.FeePlatform,
			Creator:      m.FeeCreator,
			Liquidity:    m.FeeLiquidity,
			PrizePool:    m.FeePrizePool,
			EffectiveBps: m.EffectiveFeeBps,
			DiscountBps:  m.DiscountBps,
		},
		SlippageBps: m.SlippageBps,
		Version:     m.Version,
		Graduated:   m.Graduated,
		CreatedAt:   m.CreatedAt,
	}
}
