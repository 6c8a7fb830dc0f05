// internal/api/request.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thecyberginehost/moonforge/internal/export"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/types"
)

type quoteBody struct {
	TradeType string `json:"tradeType" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
}

func (b quoteBody) toRequest(tokenID string) (settlement.QuoteRequest, error) {
	tt, err := types.ParseTradeType(b.TradeType)
	if err != nil {
		return settlement.QuoteRequest{}, err
	}
	return settlement.QuoteRequest{TokenID: tokenID, TradeType: tt, Amount: b.Amount}, nil
}

// tradeBody carries exactly one slippage bound: minOutput, or a tolerance
// with an optional expectedOutput from a prior quote.
type tradeBody struct {
	TradeType            string  `json:"tradeType" binding:"required"`
	Amount               uint64  `json:"amount" binding:"required"`
	WalletAddress        string  `json:"walletAddress"`
	MinOutput            *uint64 `json:"minOutput"`
	SlippageToleranceBps *uint64 `json:"slippageToleranceBps"`
	ExpectedOutput       uint64  `json:"expectedOutput"`
}

func (b tradeBody) toRequest(tokenID string) (settlement.TradeRequest, error) {
	tt, err := types.ParseTradeType(b.TradeType)
	if err != nil {
		return settlement.TradeRequest{}, err
	}

	var slippage types.SlippageConfig
	switch {
	case b.MinOutput != nil && b.SlippageToleranceBps != nil:
		return settlement.TradeRequest{}, types.NewTradeError(types.KindInvalidAmount,
			"set either minOutput or slippageToleranceBps, not both")
	case b.MinOutput != nil:
		slippage = types.MinOutputSlippage(*b.MinOutput)
	case b.SlippageToleranceBps != nil:
		slippage = types.ToleranceSlippage(*b.SlippageToleranceBps, b.ExpectedOutput)
	default:
		return settlement.TradeRequest{}, types.NewTradeError(types.KindInvalidAmount,
			"minOutput or slippageToleranceBps is required")
	}

	return settlement.TradeRequest{
		TokenID:       tokenID,
		TradeType:     tt,
		Amount:        b.Amount,
		WalletAddress: b.WalletAddress,
		Slippage:      slippage,
	}, nil
}

type discountBody struct {
	DiscountBps *uint32 `json:"discountBps" binding:"required"`
}

// exportOptions reads ?format=&type=&wallet=&from=&to= (RFC3339 times).
func exportOptions(c *gin.Context) (export.Options, bool) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		badRequestMsg(c, err.Error())
		return export.Options{}, false
	}
	opts := export.Options{Format: format, Wallet: c.Query("wallet")}

	if v := c.Query("type"); v != "" {
		if opts.TradeType, err = types.ParseTradeType(v); err != nil {
			badRequestMsg(c, err.Error())
			return export.Options{}, false
		}
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &opts.StartTime}, {"to", &opts.EndTime}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		if *p.dst, err = time.Parse(time.RFC3339, v); err != nil {
			badRequestMsg(c, p.key+" must be an RFC3339 timestamp")
			return export.Options{}, false
		}
	}
	return opts, true
}
