package memory

import (
	"context"
	"sync"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// MarketStateStore is an in-memory implementation of storage.MarketStateStore.
type MarketStateStore struct {
	mu     sync.RWMutex
	byMint map[string]*domain.MarketState
}

// NewMarketStateStore creates a new in-memory market state store.
func NewMarketStateStore() *MarketStateStore {
	return &MarketStateStore{
		byMint: make(map[string]*domain.MarketState),
	}
}

var _ storage.MarketStateStore = (*MarketStateStore)(nil)

// Save upserts the state for s.Mint.
func (s *MarketStateStore) Save(_ context.Context, st *domain.MarketState) error {
	if st == nil || st.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stateCopy := *st
	s.byMint[st.Mint] = &stateCopy
	return nil
}

// Get retrieves the state for mint. Returns ErrNotFound if not exists.
func (s *MarketStateStore) Get(_ context.Context, mint string) (*domain.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.byMint[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	stateCopy := *st
	return &stateCopy, nil
}
