package store

import (
	"context"
	"sync"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/google/uuid"
)

// MemoryHistoryStore is a thread-safe in-memory history store.
// Snapshots are append-only and kept in insertion order.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	entries []*domain.TradeHistory
	byTrade map[uuid.UUID][]*domain.TradeHistory // trade_id → snapshots (chronological)
}

// NewMemoryHistoryStore creates an empty MemoryHistoryStore.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		entries: make([]*domain.TradeHistory, 0),
		byTrade: make(map[uuid.UUID][]*domain.TradeHistory),
	}
}

// Append stores a copy of the snapshot.
func (s *MemoryHistoryStore) Append(_ context.Context, h *domain.TradeHistory) error {
	c := *h

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, &c)
	s.byTrade[c.TradeID] = append(s.byTrade[c.TradeID], &c)
	return nil
}

// ListByTrade returns the snapshots of one trade in insertion order.
// Returns an empty slice if none exist.
func (s *MemoryHistoryStore) ListByTrade(_ context.Context, tradeID uuid.UUID) ([]*domain.TradeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyHistory(s.byTrade[tradeID]), nil
}

// Len returns the total number of snapshots.
func (s *MemoryHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func copyHistory(src []*domain.TradeHistory) []*domain.TradeHistory {
	result := make([]*domain.TradeHistory, len(src))
	for i, h := range src {
		c := *h
		result[i] = &c
	}
	return result
}
