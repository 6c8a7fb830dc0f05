// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/ledger"
)

// Storage определяет интерфейс для работы с хранилищем
type Storage interface {
	// Кривые
	CreateToken(ctx context.Context, state *curve.ReserveState) error
	GetReserveState(ctx context.Context, tokenID string) (*curve.ReserveState, error)
	ListTokens(ctx context.Context, limit, offset int) ([]*curve.ReserveState, error)

	// CommitTrade атомарно записывает новое состояние и запись журнала.
	// Запись выполняется только если сохраненная версия равна expectedVersion,
	// иначе возвращается ErrVersionConflict.
	CommitTrade(ctx context.Context, expectedVersion uint64, next *curve.ReserveState, entry *ledger.Entry) error

	// Журнал сделок, упорядоченный по версии
	ListLedgerEntries(ctx context.Context, tokenID string, limit, offset int) ([]ledger.Entry, error)

	// Скидки за достижения
	UpsertDiscount(ctx context.Context, tokenID string, discountBps uint32) error
	LoadDiscount(ctx context.Context, tokenID string) (uint32, error)

	RunMigrations(ctx context.Context) error
	Close() error
}
