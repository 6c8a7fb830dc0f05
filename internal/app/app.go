// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thecyberginehost/moonforge/internal/achievement"
	"github.com/thecyberginehost/moonforge/internal/api"
	"github.com/thecyberginehost/moonforge/internal/config"
	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/utils/logger"
	"github.com/thecyberginehost/moonforge/internal/utils/metrics"
)

// App wires storage, the settlement engine and the HTTP API.
type App struct {
	cfg      *config.Config
	log      *logger.Logger
	logger   *zap.Logger
	store    storage.Storage
	bus      *events.Bus
	metrics  *metrics.Collector
	engine   *settlement.Engine
	api      *api.Server
	server   *http.Server
	shutdown *ShutdownHandler
}

// New builds every component. Call Close to release them.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	defer log.TrackPerformance("app_init")()

	a := &App{
		cfg:      cfg,
		log:      log,
		logger:   log.WithComponent("app"),
		metrics:  metrics.NewCollector(),
		shutdown: NewShutdownHandler(log.Logger),
	}

	store, err := OpenStore(ctx, cfg.Storage, log.Logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.shutdown.Add("storage", store)

	a.bus = events.NewBus(log.Logger, cfg.Events.BufferSize)
	a.shutdown.AddFunc("event_bus", a.bus.Shutdown)

	discounts := achievement.Provider(achievement.None{})
	if cfg.Achievement.CacheTTL > 0 {
		discounts = achievement.NewCache(store, cfg.Achievement.CacheTTL, cfg.Fees.MaxDiscountBps, log.Logger)
	}

	engine, err := settlement.New(store, cfg.Fees, cfg.Graduation, cfg.Engine, log.Logger,
		settlement.WithCurveParams(cfg.Curve),
		settlement.WithDiscounts(discounts),
		settlement.WithEvents(a.bus),
		settlement.WithMetrics(a.metrics),
	)
	if err != nil {
		_ = a.shutdown.Shutdown(ctx)
		return nil, err
	}
	a.engine = engine
	a.shutdown.AddFunc("settlement", engine.Close)

	a.api = api.NewServer(engine, log, api.WithEvents(a.bus), api.WithMetrics(a.metrics))
	a.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.api.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return a, nil
}

// Engine returns the settlement engine.
func (a *App) Engine() *settlement.Engine { return a.engine }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP until ctx is cancelled, then stops accepting requests.
// Close must still be called to release the engine and storage.
func (a *App) Run(ctx context.Context) error {
	log := a.log.WithOperation("serve")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", a.cfg.HTTP.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Stopping HTTP server")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		a.api.CloseStreams()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases all components in reverse start order.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
