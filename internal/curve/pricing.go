// internal/curve/pricing.go
package curve

import (
	"math/big"

	"github.com/thecyberginehost/moonforge/internal/types"
)

// effectiveReserves returns the reserves the curve prices on:
// S = virtualSol + realSol and T = virtualToken - tokensSold, where
// tokensSold = curveTokenReserves - realTokenReserves.
func effectiveReserves(s *ReserveState) (*big.Int, *big.Int) {
	sol := new(big.Int).SetUint64(s.VirtualSolReserves)
	sol.Add(sol, new(big.Int).SetUint64(s.RealSolReserves))
	tok := new(big.Int).SetUint64(s.VirtualTokenReserves)
	tok.Add(tok, new(big.Int).SetUint64(s.RealTokenReserves))
	tok.Sub(tok, new(big.Int).SetUint64(s.CurveTokenReserves))
	return sol, tok
}

// ceilDiv returns ceil(a/b) for positive operands.
func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// constantProductOut returns reserveOut - ceil(reserveIn*reserveOut/(reserveIn+amountIn)).
// The division rounds toward the pool so k never shrinks.
func constantProductOut(reserveIn, reserveOut *big.Int, amountIn uint64) *big.Int {
	k := new(big.Int).Mul(reserveIn, reserveOut)
	newIn := new(big.Int).Add(reserveIn, new(big.Int).SetUint64(amountIn))
	newOut := ceilDiv(k, newIn)
	return new(big.Int).Sub(reserveOut, newOut)
}

// QuoteBuy returns the tokens paid out for solIn lamports that reach the curve.
// Fees must already be removed from solIn.
func QuoteBuy(s *ReserveState, solIn uint64) (uint64, error) {
	if solIn == 0 {
		return 0, types.NewTradeError(types.KindInvalidAmount, "sol amount must be positive").
			WithReserves(s.Context())
	}
	sol, tok := effectiveReserves(s)
	out := constantProductOut(sol, tok, solIn)
	if out.Sign() <= 0 {
		return 0, types.NewTradeError(types.KindInsufficientLiquidity, "buy of %d lamports yields no tokens", solIn).
			WithReserves(s.Context())
	}
	if !out.IsUint64() || out.Uint64() > s.RealTokenReserves {
		return 0, types.NewTradeError(types.KindInsufficientLiquidity,
			"buy requires %s tokens, curve holds %d", out.String(), s.RealTokenReserves).
			WithReserves(s.Context())
	}
	return out.Uint64(), nil
}

// QuoteSell returns the gross lamports paid out for tokensIn, before fees.
func QuoteSell(s *ReserveState, tokensIn uint64) (uint64, error) {
	if tokensIn == 0 {
		return 0, types.NewTradeError(types.KindInvalidAmount, "token amount must be positive").
			WithReserves(s.Context())
	}
	if tokensIn > s.TokensSold {
		return 0, types.NewTradeError(types.KindInsufficientLiquidity,
			"sell of %d tokens exceeds %d sold by the curve", tokensIn, s.TokensSold).
			WithReserves(s.Context())
	}
	sol, tok := effectiveReserves(s)
	out := constantProductOut(tok, sol, tokensIn)
	if out.Sign() <= 0 {
		return 0, types.NewTradeError(types.KindInsufficientLiquidity, "sell of %d tokens yields no sol", tokensIn).
			WithReserves(s.Context())
	}
	if !out.IsUint64() || out.Uint64() > s.RealSolReserves {
		return 0, types.NewTradeError(types.KindInsufficientLiquidity,
			"sell requires %s lamports, curve holds %d", out.String(), s.RealSolReserves).
			WithReserves(s.Context())
	}
	return out.Uint64(), nil
}

// SpotBuyOutput is the token output of solIn at the pre-trade spot price,
// i.e. with zero price impact: solIn * T / S.
func SpotBuyOutput(s *ReserveState, solIn uint64) uint64 {
	sol, tok := effectiveReserves(s)
	return spotOutput(sol, tok, solIn)
}

// SpotSellOutput is the lamport output of tokensIn at the pre-trade spot price.
func SpotSellOutput(s *ReserveState, tokensIn uint64) uint64 {
	sol, tok := effectiveReserves(s)
	return spotOutput(tok, sol, tokensIn)
}

func spotOutput(reserveIn, reserveOut *big.Int, amountIn uint64) uint64 {
	if reserveIn.Sign() == 0 {
		return 0
	}
	v := new(big.Int).Mul(new(big.Int).SetUint64(amountIn), reserveOut)
	v.Quo(v, reserveIn)
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

// Product returns the curve invariant k = S * T.
func Product(s *ReserveState) *big.Int {
	sol, tok := effectiveReserves(s)
	return new(big.Int).Mul(sol, tok)
}
