package storage

import (
	"context"

	"buywatch/internal/domain"
)

// MarketStateStore persists the last known market state per mint so a restart
// can serve a market cap before the first upstream refresh completes.
type MarketStateStore interface {
	// Save upserts the state for s.Mint.
	Save(ctx context.Context, s *domain.MarketState) error

	// Get retrieves the state for mint. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string) (*domain.MarketState, error)
}
