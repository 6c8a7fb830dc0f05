package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/config"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/storage/memory"
	"github.com/thecyberginehost/moonforge/internal/storage/postgres"
)

// OpenStore opens the configured storage backend and applies migrations.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Storage, error) {
	var (
		st  storage.Storage
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		st = memory.New()
	case config.DriverSQLite:
		st, err = postgres.NewSQLite(cfg.DSN, logger.Named("storage"))
	case config.DriverPostgres:
		st, err = postgres.NewStorage(cfg.DSN, logger.Named("storage"))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}

	if err := st.RunMigrations(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Storage ready", zap.String("driver", cfg.Driver))
	return st, nil
}
