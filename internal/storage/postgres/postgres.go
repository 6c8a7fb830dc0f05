// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/storage/models"
)

// migrationLockID is the advisory lock key held while migrating.
const migrationLockID = 7_310_101

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger     *zap.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

// newGormLogger создает новый логгер для GORM
func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger:     zapLogger,
		logLevel:      logger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

// LogMode реализация интерфейса logger.Interface
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

// Info реализация интерфейса logger.Interface
func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

// Warn реализация интерфейса logger.Interface
func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

// Error реализация интерфейса logger.Interface
func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace реализация интерфейса logger.Interface
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	// "not found" is an expected outcome of lookups, not a failure
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if elapsed > l.slowThreshold && l.logLevel >= logger.Warn {
		l.zapLogger.Warn("slow query", fields...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Debug("trace", fields...)
	}
}

// Store реализует интерфейс Storage поверх GORM (PostgreSQL или SQLite)
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage opens a PostgreSQL-backed store.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	s, err := NewWithDialector(postgres.Open(dsn), zapLogger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return s, nil
}

// NewSQLite opens a SQLite-backed store for single-node deployments.
func NewSQLite(dsn string, zapLogger *zap.Logger) (*Store, error) {
	s, err := NewWithDialector(sqlite.Open(dsn), zapLogger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	// SQLite допускает только одного писателя
	sqlDB.SetMaxOpenConns(1)

	return s, nil
}

// NewWithDialector opens a store on any GORM dialector.
func NewWithDialector(dialector gorm.Dialector, zapLogger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{
		db:     db,
		logger: zapLogger,
	}, nil
}

// ErrMigrationInProgress is returned when another process holds the migration lock.
var ErrMigrationInProgress = errors.New("another migration is in progress")

// RunMigrations использует GORM AutoMigrate под advisory lock на PostgreSQL
func (p *Store) RunMigrations(ctx context.Context) error {
	db := p.db.WithContext(ctx)
	if db.Dialector.Name() != "postgres" {
		return p.migrate(db)
	}

	// Session lock: lock, migrate and unlock must share one connection.
	return db.Connection(func(conn *gorm.DB) error {
		var lockObtained bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return ErrMigrationInProgress
		}
		defer func() {
			err := conn.WithContext(context.WithoutCancel(ctx)).
				Exec("SELECT pg_advisory_unlock(?)", migrationLockID).Error
			if err != nil {
				p.logger.Warn("Failed to release migration lock", zap.Error(err))
			}
		}()
		return p.migrate(conn)
	})
}

func (p *Store) migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Token{},
		&models.LedgerEntry{},
		&models.AchievementDiscount{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	p.logger.Info("Migrations applied", zap.String("dialect", db.Dialector.Name()))
	return nil
}

func (p *Store) CreateToken(ctx context.Context, state *curve.ReserveState) error {
	err := p.db.WithContext(ctx).Create(models.TokenFromState(state)).Error
	if isDuplicateKeyError(err) {
		return fmt.Errorf("token %s: %w", state.TokenID, storage.ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func (p *Store) GetReserveState(ctx context.Context, tokenID string) (*curve.ReserveState, error) {
	var t models.Token
	err := p.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("token %s: %w", tokenID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return t.State(), nil
}

func (p *Store) ListTokens(ctx context.Context, limit, offset int) ([]*curve.ReserveState, error) {
	var rows []models.Token
	q := p.db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	states := make([]*curve.ReserveState, 0, len(rows))
	for i := range rows {
		states = append(states, rows[i].State())
	}
	return states, nil
}

// CommitTrade updates the token row guarded by its version and appends the
// ledger entry in one transaction.
func (p *Store) CommitTrade(ctx context.Context, expectedVersion uint64, next *curve.ReserveState, entry *ledger.Entry) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("token_id = ? AND version = ?", next.TokenID, expectedVersion).
			Updates(models.TradeUpdates(next))
		if res.Error != nil {
			return fmt.Errorf("failed to update token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Token{}).Where("token_id = ?", next.TokenID).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check token: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("token %s: %w", next.TokenID, storage.ErrNotFound)
			}
			return fmt.Errorf("token %s at version %d: %w", next.TokenID, expectedVersion, storage.ErrVersionConflict)
		}

		if err := tx.Create(models.LedgerEntryFrom(entry)).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("ledger entry %s version %d: %w", entry.ID, entry.Version, storage.ErrVersionConflict)
			}
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		return nil
	})
}

func (p *Store) ListLedgerEntries(ctx context.Context, tokenID string, limit, offset int) ([]ledger.Entry, error) {
	var rows []models.LedgerEntry
	q := p.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("version asc").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].Entry())
	}
	return entries, nil
}

func (p *Store) UpsertDiscount(ctx context.Context, tokenID string, discountBps uint32) error {
	now := time.Now().UTC()
	row := models.AchievementDiscount{
		BaseModel:   models.BaseModel{CreatedAt: now, UpdatedAt: now},
		TokenID:     tokenID,
		DiscountBps: discountBps,
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"discount_bps", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert discount: %w", err)
	}
	return nil
}

func (p *Store) LoadDiscount(ctx context.Context, tokenID string) (uint32, error) {
	var row models.AchievementDiscount
	err := p.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load discount: %w", err)
	}
	return row.DiscountBps, nil
}

func (p *Store) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicateKeyError checks for a unique violation (PostgreSQL code 23505)
// or GORM's translated duplicate error.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
