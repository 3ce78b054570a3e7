package store

import (
	"bytes"
	"context"
	"sync"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/google/btree"
	"github.com/google/uuid"
)

// tradeLess orders trades by identifier bytes so scans are deterministic.
func tradeLess(a, b *domain.Trade) bool {
	return bytes.Compare(a.TradeID[:], b.TradeID[:]) < 0
}

// MemoryTradeStore is a thread-safe in-memory record store for trades,
// kept in a B-tree ordered by trade ID. Writes are conditional on the
// stored version, the same contract as PostgresTradeStore.
type MemoryTradeStore struct {
	mu     sync.RWMutex
	trades *btree.BTreeG[*domain.Trade]
}

// NewMemoryTradeStore creates an empty MemoryTradeStore.
func NewMemoryTradeStore() *MemoryTradeStore {
	const degree = 32
	return &MemoryTradeStore{
		trades: btree.NewG[*domain.Trade](degree, tradeLess),
	}
}

// Get returns a copy of the trade with the given ID, or
// domain.ErrTradeNotFound.
func (s *MemoryTradeStore) Get(_ context.Context, id uuid.UUID) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades.Get(&domain.Trade{TradeID: id})
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return t.Clone(), nil
}

// Upsert inserts t, or replaces the stored trade when its version is not
// higher than t's. The stored created date is never overwritten. It returns
// domain.ErrStaleVersion when the stored trade is newer.
func (s *MemoryTradeStore) Upsert(_ context.Context, t *domain.Trade) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.put(t)
	if !ok {
		return nil, domain.ErrStaleVersion
	}
	return stored.Clone(), nil
}

// ExpireBatch sets the expired flag on every listed trade that still
// qualifies under a single lock: not yet expired and maturing strictly
// before the given date. Only the flag changes; the expired trades are
// returned.
func (s *MemoryTradeStore) ExpireBatch(_ context.Context, ids []uuid.UUID, before domain.Date) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]*domain.Trade, 0, len(ids))
	for _, id := range ids {
		stored, ok := s.trades.Get(&domain.Trade{TradeID: id})
		if !ok || stored.Expired || !stored.MaturityDate.Before(before) {
			continue
		}
		next := stored.Clone()
		next.Expired = true
		s.trades.ReplaceOrInsert(next)
		expired = append(expired, next.Clone())
	}
	return expired, nil
}

// put performs the conditional write. Caller must hold the write lock.
func (s *MemoryTradeStore) put(t *domain.Trade) (*domain.Trade, bool) {
	next := t.Clone()
	if existing, ok := s.trades.Get(next); ok {
		if existing.Version > next.Version {
			return nil, false
		}
		next.CreatedDate = existing.CreatedDate
	}
	s.trades.ReplaceOrInsert(next)
	return next, true
}

// List returns copies of all trades ordered by ID.
// Returns an empty slice if the store is empty.
func (s *MemoryTradeStore) List(_ context.Context) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Trade, 0, s.trades.Len())
	s.trades.Ascend(func(t *domain.Trade) bool {
		result = append(result, t.Clone())
		return true
	})
	return result, nil
}

// ListExpiryCandidates returns trades not yet expired whose maturity date
// is strictly before the given date.
func (s *MemoryTradeStore) ListExpiryCandidates(_ context.Context, before domain.Date) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Trade, 0)
	s.trades.Ascend(func(t *domain.Trade) bool {
		if !t.Expired && t.MaturityDate.Before(before) {
			result = append(result, t.Clone())
		}
		return true
	})
	return result, nil
}

// FindByBookAndCounterParty returns the first trade (by ID order) booked
// in bookID against counterPartyID, or domain.ErrTradeNotFound.
func (s *MemoryTradeStore) FindByBookAndCounterParty(_ context.Context, bookID, counterPartyID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Trade
	s.trades.Ascend(func(t *domain.Trade) bool {
		if t.BookID == bookID && t.CounterPartyID == counterPartyID {
			found = t.Clone()
			return false
		}
		return true
	})
	if found == nil {
		return nil, domain.ErrTradeNotFound
	}
	return found, nil
}
