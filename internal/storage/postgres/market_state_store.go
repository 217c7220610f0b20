package postgres

import (
	"context"
	"fmt"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// MarketStateStore implements storage.MarketStateStore using PostgreSQL.
type MarketStateStore struct {
	pool *Pool
}

// NewMarketStateStore creates a new MarketStateStore.
func NewMarketStateStore(pool *Pool) *MarketStateStore {
	return &MarketStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketStateStore = (*MarketStateStore)(nil)

// Save upserts the state for s.Mint.
func (s *MarketStateStore) Save(ctx context.Context, st *domain.MarketState) error {
	if st == nil || st.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO market_state (
			mint, pair_address, quote_symbol, price_native, market_cap, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mint) DO UPDATE SET
			pair_address = EXCLUDED.pair_address,
			quote_symbol = EXCLUDED.quote_symbol,
			price_native = EXCLUDED.price_native,
			market_cap   = EXCLUDED.market_cap,
			updated_at   = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		st.Mint,
		st.PairAddress,
		st.QuoteSymbol,
		st.PriceNative,
		st.MarketCap,
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save market state: %w", err)
	}
	return nil
}

// Get retrieves the state for mint. Returns ErrNotFound if not exists.
func (s *MarketStateStore) Get(ctx context.Context, mint string) (*domain.MarketState, error) {
	query := `
		SELECT mint, pair_address, quote_symbol, price_native, market_cap, updated_at
		FROM market_state
		WHERE mint = $1
	`

	var st domain.MarketState
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&st.Mint,
		&st.PairAddress,
		&st.QuoteSymbol,
		&st.PriceNative,
		&st.MarketCap,
		&st.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market state: %w", err)
	}
	return &st, nil
}
