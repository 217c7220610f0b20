package memory

import (
	"context"
	"errors"
	"testing"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

func TestMarketStateStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMarketStateStore()

	st := &domain.MarketState{
		Mint:        "mint1",
		PairAddress: "pair1",
		PriceNative: 0.00001,
		MarketCap:   123456,
		UpdatedAt:   1700000000000,
	}
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "mint1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got != *st {
		t.Errorf("got %+v, want %+v", got, st)
	}
}

func TestMarketStateStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMarketStateStore()

	_ = store.Save(ctx, &domain.MarketState{Mint: "mint1", PairAddress: "old", MarketCap: 1})
	_ = store.Save(ctx, &domain.MarketState{Mint: "mint1", PairAddress: "new", MarketCap: 2})

	got, err := store.Get(ctx, "mint1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PairAddress != "new" || got.MarketCap != 2 {
		t.Errorf("expected overwritten state, got %+v", got)
	}
}

func TestMarketStateStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMarketStateStore()

	st := &domain.MarketState{Mint: "mint1", MarketCap: 10}
	_ = store.Save(ctx, st)
	st.MarketCap = 99

	got, _ := store.Get(ctx, "mint1")
	if got.MarketCap != 10 {
		t.Errorf("store shares memory with caller: MarketCap = %v", got.MarketCap)
	}

	got.MarketCap = 50
	again, _ := store.Get(ctx, "mint1")
	if again.MarketCap != 10 {
		t.Errorf("store returned shared pointer: MarketCap = %v", again.MarketCap)
	}
}

func TestMarketStateStore_NotFound(t *testing.T) {
	store := NewMarketStateStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarketStateStore_InvalidInput(t *testing.T) {
	store := NewMarketStateStore()

	if err := store.Save(context.Background(), nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Save(context.Background(), &domain.MarketState{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty mint, got %v", err)
	}
}
