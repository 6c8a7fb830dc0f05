// internal/types/types.go
package types

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// Decimal places of SOL and curve tokens.
const (
	SolDecimals   = 9
	TokenDecimals = 6
)

// LamportsPerSol mirrors the Solana constant.
const LamportsPerSol = solana.LAMPORTS_PER_SOL

// TokenUnit is one whole token in base units.
const TokenUnit uint64 = 1_000_000

// TradeType is the direction of a curve trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// ParseTradeType accepts "buy" or "sell" in any case.
func ParseTradeType(s string) (TradeType, error) {
	switch TradeType(strings.ToLower(strings.TrimSpace(s))) {
	case TradeBuy:
		return TradeBuy, nil
	case TradeSell:
		return TradeSell, nil
	default:
		return "", NewTradeError(KindInvalidAmount, "invalid trade type %q, must be 'buy' or 'sell'", s)
	}
}

// ValidateAddress checks that addr is a base58 Solana public key.
func ValidateAddress(addr string) error {
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}
