package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/achievement"
	"github.com/thecyberginehost/moonforge/internal/app"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/storage/memory"
	"github.com/thecyberginehost/moonforge/internal/types"
	"github.com/thecyberginehost/moonforge/internal/ui"
)

var (
	quoteFresh    bool
	quoteDiscount uint32
)

var quoteCmd = &cobra.Command{
	Use:   "quote <token-id> <buy|sell> <amount>",
	Short: "Preview a trade without settling it",
	Long: `Prices a trade against the stored curve and prints the result.
Amount is lamports for a buy and token base units for a sell.

With --fresh the trade is priced on a new curve built from the configured
defaults, so no storage is needed.`,
	Args: cobra.ExactArgs(3),
	RunE: runQuote,
}

func init() {
	quoteCmd.Flags().BoolVar(&quoteFresh, "fresh", false, "quote against a new curve with default parameters")
	quoteCmd.Flags().Uint32Var(&quoteDiscount, "discount", 0, "achievement discount in bps (with --fresh)")
}

func runQuote(cmd *cobra.Command, args []string) error {
	opLog := log.WithOperation("quote")
	tokenID := args[0]

	tradeType, err := types.ParseTradeType(args[1])
	if err != nil {
		return err
	}
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	var st storage.Storage
	if quoteFresh {
		st = memory.New()
	} else {
		st, err = app.OpenStore(ctx, cfg.Storage, log.Logger)
		if err != nil {
			return err
		}
	}
	defer st.Close()

	opts := []settlement.Option{settlement.WithCurveParams(cfg.Curve)}
	if quoteFresh && quoteDiscount > 0 {
		discount := quoteDiscount
		opts = append(opts, settlement.WithDiscounts(achievement.NewCache(
			achievement.SourceFunc(func(context.Context, string) (uint32, error) { return discount, nil }),
			time.Minute, cfg.Fees.MaxDiscountBps, log.Logger)))
	} else if !quoteFresh {
		opts = append(opts, settlement.WithDiscounts(
			achievement.NewCache(st, time.Minute, cfg.Fees.MaxDiscountBps, log.Logger)))
	}

	engine, err := settlement.New(st, cfg.Fees, cfg.Graduation, cfg.Engine, log.Logger, opts...)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	if quoteFresh {
		if _, err := engine.CreateToken(ctx, settlement.CreateTokenRequest{TokenID: tokenID}); err != nil {
			return err
		}
	}

	res, err := engine.Quote(ctx, settlement.QuoteRequest{TokenID: tokenID, TradeType: tradeType, Amount: amount})
	if err != nil {
		opLog.Debug("Quote failed", zap.Error(err))
		return err
	}
	state, err := engine.Snapshot(ctx, tokenID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.SnapshotView(state, engine.Policy()))
	fmt.Fprintln(out, ui.QuoteView(tokenID, tradeType, res))
	return nil
}
