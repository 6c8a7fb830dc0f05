// internal/curve/display.go
package curve

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/thecyberginehost/moonforge/internal/types"
)

const displayPrecision = 18

// Lamports converts lamports to SOL.
func Lamports(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -types.SolDecimals)
}

// Tokens converts base units to whole tokens.
func Tokens(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -types.TokenDecimals)
}

// SpotPrice is the marginal SOL price of one whole token, S/T.
func SpotPrice(s *ReserveState) decimal.Decimal {
	sol, tok := effectiveReserves(s)
	if tok.Sign() == 0 {
		return decimal.Zero
	}
	num := decimal.NewFromBigInt(sol, -types.SolDecimals)
	den := decimal.NewFromBigInt(tok, -types.TokenDecimals)
	return num.DivRound(den, displayPrecision)
}

// MarketCap is price × total supply in SOL.
func MarketCap(s *ReserveState, price decimal.Decimal) decimal.Decimal {
	return price.Mul(Tokens(s.TokenSupply))
}

// RealizedPrice is the SOL paid per whole token for a trade.
func RealizedPrice(lamports, tokenUnits uint64) decimal.Decimal {
	if tokenUnits == 0 {
		return decimal.Zero
	}
	return Lamports(lamports).DivRound(Tokens(tokenUnits), displayPrecision)
}
