// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/storage"
)

// Store is an in-process Storage. State is copied on the way in and out.
type Store struct {
	mu        sync.RWMutex
	tokens    map[string]*curve.ReserveState
	entries   map[string][]ledger.Entry
	discounts map[string]uint32
}

var _ storage.Storage = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tokens:    make(map[string]*curve.ReserveState),
		entries:   make(map[string][]ledger.Entry),
		discounts: make(map[string]uint32),
	}
}

func (m *Store) CreateToken(ctx context.Context, state *curve.ReserveState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tokens[state.TokenID]; ok {
		return fmt.Errorf("token %s: %w", state.TokenID, storage.ErrDuplicateKey)
	}
	m.tokens[state.TokenID] = state.Clone()
	return nil
}

func (m *Store) GetReserveState(ctx context.Context, tokenID string) (*curve.ReserveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, storage.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *Store) ListTokens(ctx context.Context, limit, offset int) ([]*curve.ReserveState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	all := make([]*curve.ReserveState, 0, len(m.tokens))
	for _, s := range m.tokens {
		all = append(all, s.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].TokenID < all[j].TokenID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

func (m *Store) CommitTrade(ctx context.Context, expectedVersion uint64, next *curve.ReserveState, entry *ledger.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tokens[next.TokenID]
	if !ok {
		return fmt.Errorf("token %s: %w", next.TokenID, storage.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("token %s at version %d, stored %d: %w",
			next.TokenID, expectedVersion, cur.Version, storage.ErrVersionConflict)
	}

	m.tokens[next.TokenID] = next.Clone()
	m.entries[next.TokenID] = append(m.entries[next.TokenID], *entry)
	return nil
}

func (m *Store) ListLedgerEntries(ctx context.Context, tokenID string, limit, offset int) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[tokenID]
	out := make([]ledger.Entry, len(src))
	copy(out, src)
	return page(out, limit, offset), nil
}

func (m *Store) UpsertDiscount(ctx context.Context, tokenID string, discountBps uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.discounts[tokenID] = discountBps
	m.mu.Unlock()
	return nil
}

func (m *Store) LoadDiscount(ctx context.Context, tokenID string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.discounts[tokenID], nil
}

func (m *Store) RunMigrations(context.Context) error { return nil }

func (m *Store) Close() error { return nil }

// page applies limit/offset; limit <= 0 means no limit.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
