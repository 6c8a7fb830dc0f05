// internal/settlement/settle.go
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// Settle prices and commits one trade. On any error no state has changed.
func (e *Engine) Settle(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		e.reject(req, err, start)
		return nil, err
	}

	var (
		res *TradeResult
		err error
	)
	switch e.cfg.Mode {
	case ModeActor:
		res, err = e.submit(ctx, req)
	default:
		if e.isClosed() {
			return nil, ErrEngineClosed
		}
		res, err = e.safeSettle(ctx, req)
	}

	if err != nil {
		e.reject(req, err, start)
		return nil, err
	}
	e.metrics.RecordTrade(string(req.TradeType), "success", time.Since(start))
	return res, nil
}

// QuoteRequest previews a trade without committing it.
type QuoteRequest struct {
	TokenID   string          `json:"tokenId"`
	TradeType types.TradeType `json:"tradeType"`
	Amount    uint64          `json:"amount"`
}

// Quote runs the full pricing path on the latest snapshot and discards the result.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (*TradeResult, error) {
	tr := TradeRequest{
		TokenID:   req.TokenID,
		TradeType: req.TradeType,
		Amount:    req.Amount,
		Slippage:  types.SlippageConfig{Type: types.SlippageNone},
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}

	cur, err := e.load(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	o, err := execute(cur, tr, e.schedule, e.policy, e.discount(ctx, req.TokenID), e.now())
	if err != nil {
		return nil, err
	}
	o.result.Success = false
	o.result.LedgerEntryID = ""
	return o.result, nil
}

// safeSettle runs settleWithRetry and turns a panic into an error.
func (e *Engine) safeSettle(ctx context.Context, req TradeRequest) (res *TradeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic during settlement",
				zap.String("token_id", req.TokenID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res, err = nil, panicError(r)
		}
	}()
	return e.settleWithRetry(ctx, req)
}

// settleWithRetry loads, computes and commits, retrying on version conflicts.
// The caller's ctx bounds everything except an in-flight commit.
func (e *Engine) settleWithRetry(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	log := e.logger.With(
		zap.String("token_id", req.TokenID),
		zap.String("trade_type", string(req.TradeType)),
		zap.Uint64("amount", req.Amount))

	attempt := 0
	op := func() (*TradeResult, error) {
		attempt++
		cur, err := e.load(ctx, req.TokenID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		o, err := execute(cur, req, e.schedule, e.policy, e.discount(ctx, req.TokenID), e.now())
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		if err := e.commit(ctx, o); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				log.Debug("Version conflict, retrying",
					zap.Int("attempt", attempt),
					zap.Uint64("expected_version", o.expectedVersion))
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		e.committed(o)
		return o.result, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.InitialBackoff
	eb.MaxInterval = e.cfg.MaxBackoff

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(e.cfg.MaxRetries+1),
		backoff.WithMaxElapsedTime(e.cfg.MaxElapsed),
		backoff.WithNotify(func(error, time.Duration) {
			e.metrics.RecordRetry(string(e.cfg.Mode))
		}),
	)
	if err == nil {
		return res, nil
	}

	if errors.Is(err, storage.ErrVersionConflict) {
		return nil, types.NewTradeError(types.KindContention,
			"token %s still contended after %d attempts", req.TokenID, attempt).WithCause(err)
	}
	return nil, err
}

// commit writes the outcome. It is detached from the caller's cancellation and
// bounded by CommitTimeout so a started commit always reports its real result.
func (e *Engine) commit(ctx context.Context, o *outcome) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	err := e.store.CommitTrade(cctx, o.expectedVersion, o.next, o.entry)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrVersionConflict):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return types.NewTradeError(types.KindTokenNotFound, "token %s not found", o.next.TokenID)
	default:
		return types.NewTradeError(types.KindPersistenceFailure, "commit failed, trade not executed").
			WithReserves(o.next.Context()).
			WithCause(err)
	}
}

// committed reports a successful commit. Nothing here can fail the trade.
func (e *Engine) committed(o *outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while reporting settled trade",
				zap.String("token_id", o.next.TokenID),
				zap.Any("panic", r))
		}
	}()

	e.logger.Info("Trade settled",
		zap.String("token_id", o.next.TokenID),
		zap.String("trade_type", string(o.entry.TradeType)),
		zap.Uint64("input", o.entry.InputAmount),
		zap.Uint64("output", o.entry.OutputAmount),
		zap.Uint64("fee", o.entry.Fee.Total),
		zap.Uint64("version", o.next.Version),
		zap.String("entry_id", o.entry.ID))

	e.metrics.UpdateReserves(o.next.TokenID, o.next.RealSolReserves, o.next.RealTokenReserves)
	e.publish(&events.TradeSettledEvent{
		BaseEvent: events.NewBase(events.TradeSettled, o.entry.CreatedAt),
		Entry:     *o.entry,
		State:     o.next.Clone(),
	})

	if o.graduated {
		e.logger.Info("Token graduated",
			zap.String("token_id", o.next.TokenID),
			zap.Uint64("sol_raised", o.next.SolRaised),
			zap.Uint64("version", o.next.Version))
		e.metrics.RecordGraduation()
		e.publish(&events.TokenGraduatedEvent{
			BaseEvent: events.NewBase(events.TokenGraduated, o.entry.CreatedAt),
			TokenID:   o.next.TokenID,
			SolRaised: o.next.SolRaised,
			EntryID:   o.entry.ID,
			Version:   o.next.Version,
		})
	}
}

// reject records a failed trade.
func (e *Engine) reject(req TradeRequest, err error, start time.Time) {
	kind := types.KindOf(err)
	label := string(kind)
	switch {
	case kind != "":
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		label = "cancelled"
	default:
		label = "error"
	}
	e.metrics.RecordTrade(string(req.TradeType), label, time.Since(start))

	fields := []zap.Field{
		zap.String("token_id", req.TokenID),
		zap.String("trade_type", string(req.TradeType)),
		zap.Uint64("amount", req.Amount),
		zap.String("outcome", label),
		zap.Error(err),
	}
	if kind == types.KindPersistenceFailure {
		e.logger.Error("Trade rejected", fields...)
	} else {
		e.logger.Debug("Trade rejected", fields...)
	}

	if kind == "" {
		return
	}
	e.publish(&events.TradeRejectedEvent{
		BaseEvent: events.NewBase(events.TradeRejected, e.now()),
		TokenID:   req.TokenID,
		TradeType: req.TradeType,
		Amount:    req.Amount,
		Wallet:    req.WalletAddress,
		Kind:      kind,
		Reason:    err.Error(),
	})
}

// panicError converts a recovered panic into a trade error.
func panicError(r interface{}) error {
	return types.NewTradeError(types.KindPersistenceFailure, "settlement aborted, trade not executed").
		WithCause(fmt.Errorf("panic: %v", r))
}
