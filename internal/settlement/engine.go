// internal/settlement/engine.go
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/achievement"
	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/types"
	"github.com/thecyberginehost/moonforge/internal/utils/metrics"
)

// ErrEngineClosed is returned for requests made after Close.
var ErrEngineClosed = errors.New("settlement engine closed")

// Engine prices and settles trades. It owns every ReserveState mutation.
type Engine struct {
	cfg       Config
	store     storage.Storage
	schedule  fee.Schedule
	policy    graduation.Policy
	params    curve.Params
	discounts achievement.Provider
	events    events.Publisher
	metrics   metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithDiscounts sets the achievement discount provider.
func WithDiscounts(p achievement.Provider) Option {
	return func(e *Engine) { e.discounts = p }
}

// WithEvents sets the event publisher.
func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithCurveParams sets the default parameters of new curves.
func WithCurveParams(p curve.Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a settlement engine.
func New(
	store storage.Storage,
	schedule fee.Schedule,
	policy graduation.Policy,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settlement config: %w", err)
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fee schedule: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graduation policy: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		schedule:  schedule,
		policy:    policy,
		params:    curve.DefaultParams(),
		discounts: achievement.None{},
		metrics:   metrics.Nop{},
		logger:    logger.Named("settlement"),
		now:       func() time.Time { return time.Now().UTC() },
		actors:    make(map[string]*actor),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid curve params: %w", err)
	}

	e.logger.Info("Settlement engine started",
		zap.String("mode", string(cfg.Mode)),
		zap.Uint32("base_fee_bps", schedule.BaseBps()),
		zap.Uint64("graduation_threshold", policy.ThresholdLamports))
	return e, nil
}

// CreateTokenRequest initializes a curve. Zero fields in Params fall back to
// the engine defaults.
type CreateTokenRequest struct {
	TokenID       string        `json:"tokenId"`
	MintAddress   string        `json:"mintAddress"`
	CreatorWallet string        `json:"creatorWallet"`
	Params        *curve.Params `json:"params,omitempty"`
}

// CreateToken initializes a new active curve.
func (e *Engine) CreateToken(ctx context.Context, req CreateTokenRequest) (*curve.ReserveState, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	for _, addr := range []string{req.MintAddress, req.CreatorWallet} {
		if addr == "" {
			continue
		}
		if err := types.ValidateAddress(addr); err != nil {
			return nil, types.NewTradeError(types.KindInvalidAmount, "invalid address").WithCause(err)
		}
	}

	params := e.params
	if p := req.Params; p != nil {
		if p.VirtualSolReserves != 0 {
			params.VirtualSolReserves = p.VirtualSolReserves
		}
		if p.VirtualTokenReserves != 0 {
			params.VirtualTokenReserves = p.VirtualTokenReserves
		}
		if p.CurveTokenReserves != 0 {
			params.CurveTokenReserves = p.CurveTokenReserves
		}
		if p.TokenSupply != 0 {
			params.TokenSupply = p.TokenSupply
		}
	}

	id := req.TokenID
	if id == "" {
		id = uuid.NewString()
	}

	state, err := curve.NewReserveState(id, params, e.now())
	if err != nil {
		return nil, types.NewTradeError(types.KindInvalidAmount, "invalid curve parameters").WithCause(err)
	}
	state.MintAddress = req.MintAddress
	state.CreatorWallet = req.CreatorWallet

	if err := e.store.CreateToken(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create token %s: %w", id, err)
	}

	e.logger.Info("Token created",
		zap.String("token_id", id),
		zap.Uint64("virtual_sol", params.VirtualSolReserves),
		zap.Uint64("curve_tokens", params.CurveTokenReserves))
	e.publish(&events.TokenCreatedEvent{
		BaseEvent: events.NewBase(events.TokenCreated, state.CreatedAt),
		State:     state.Clone(),
	})
	return state, nil
}

// Snapshot returns a copy of the current state of a token.
func (e *Engine) Snapshot(ctx context.Context, tokenID string) (*curve.ReserveState, error) {
	return e.load(ctx, tokenID)
}

// ListTokens returns curves ordered by creation time.
func (e *Engine) ListTokens(ctx context.Context, limit, offset int) ([]*curve.ReserveState, error) {
	tokens, err := e.store.ListTokens(ctx, limit, offset)
	if err != nil {
		return nil, types.NewTradeError(types.KindPersistenceFailure, "failed to list tokens").WithCause(err)
	}
	return tokens, nil
}

// Ledger returns ledger entries of a token ordered by version.
func (e *Engine) Ledger(ctx context.Context, tokenID string, limit, offset int) ([]ledger.Entry, error) {
	if _, err := e.load(ctx, tokenID); err != nil {
		return nil, err
	}
	entries, err := e.store.ListLedgerEntries(ctx, tokenID, limit, offset)
	if err != nil {
		return nil, types.NewTradeError(types.KindPersistenceFailure, "failed to read ledger").WithCause(err)
	}
	return entries, nil
}

// Reconcile replays the ledger of a token against its stored state.
func (e *Engine) Reconcile(ctx context.Context, tokenID string) (*ledger.Report, error) {
	state, err := e.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListLedgerEntries(ctx, tokenID, 0, 0)
	if err != nil {
		return nil, types.NewTradeError(types.KindPersistenceFailure, "failed to read ledger").WithCause(err)
	}

	// Commits are atomic, so entries up to state.Version are exactly those behind state.
	upTo := make([]ledger.Entry, 0, len(entries))
	for _, en := range entries {
		if en.Version <= state.Version {
			upTo = append(upTo, en)
		}
	}

	report := ledger.Reconcile(state, upTo)
	if !report.Consistent {
		e.logger.Error("Ledger does not reconcile",
			zap.String("token_id", tokenID),
			zap.Strings("mismatches", report.Mismatches))
	}
	return report, nil
}

// UpdateDiscount records an achievement discount for a token.
func (e *Engine) UpdateDiscount(ctx context.Context, tokenID string, discountBps uint32) (uint32, error) {
	if _, err := e.load(ctx, tokenID); err != nil {
		return 0, err
	}
	if discountBps > types.BpsDenominator {
		return 0, types.NewTradeError(types.KindInvalidAmount, "discount %d bps exceeds 100%%", discountBps)
	}
	if err := e.store.UpsertDiscount(ctx, tokenID, discountBps); err != nil {
		return 0, types.NewTradeError(types.KindPersistenceFailure, "failed to store discount").WithCause(err)
	}
	if inv, ok := e.discounts.(interface{ Invalidate(string) }); ok {
		inv.Invalidate(tokenID)
	}
	applied := e.schedule.ClampDiscount(discountBps)
	e.logger.Info("Achievement discount updated",
		zap.String("token_id", tokenID),
		zap.Uint32("requested_bps", discountBps),
		zap.Uint32("applied_bps", applied))
	return applied, nil
}

// Schedule returns the fee schedule in use.
func (e *Engine) Schedule() fee.Schedule { return e.schedule }

// Policy returns the graduation policy in use.
func (e *Engine) Policy() graduation.Policy { return e.policy }

// Close stops all actors and rejects new requests. Trades already accepted
// by an actor are finished first. It may be called again after a timeout.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.stop)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Settlement engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("Settlement engine shutdown timeout")
		return ctx.Err()
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// load reads a token and maps storage errors to trade errors.
func (e *Engine) load(ctx context.Context, tokenID string) (*curve.ReserveState, error) {
	state, err := e.store.GetReserveState(ctx, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, types.NewTradeError(types.KindTokenNotFound, "token %s not found", tokenID)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.NewTradeError(types.KindPersistenceFailure, "failed to load token %s", tokenID).WithCause(err)
	}
	return state, nil
}

// discount resolves the achievement discount, capped by the schedule.
func (e *Engine) discount(ctx context.Context, tokenID string) uint32 {
	return e.schedule.ClampDiscount(e.discounts.DiscountBps(ctx, tokenID))
}

func (e *Engine) publish(ev events.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ev); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("event_type", string(ev.Type())),
			zap.Error(err))
	}
}
