package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
	"buywatch/internal/storage"
)

// Default timings.
const (
	DefaultRefreshInterval   = 10 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultPriceStaleAfter   = 30 * time.Second
)

// Publisher receives market cap events.
type Publisher interface {
	Publish(ev domain.Event)
}

// Resubscriber follows the current pair on the log stream.
type Resubscriber interface {
	// HasSubscribed reports whether a subscription ever succeeded.
	HasSubscribed() bool
	// Reconnect moves the log subscription to pair.
	Reconnect(pair string, force bool)
}

// Snapshot is a point-in-time copy of the cache.
type Snapshot struct {
	PairAddress    string
	QuoteSymbol    string
	PriceNative    float64
	MarketCap      float64
	PriceUpdatedAt time.Time
}

// Config contains configuration for creating a Cache.
type Config struct {
	Mint              string
	Fetcher           PairFetcher
	Publisher         Publisher
	Store             storage.MarketStateStore // optional
	Logger            *zap.Logger
	RefreshInterval   time.Duration
	KeepAliveInterval time.Duration
	PriceStaleAfter   time.Duration
}

// Cache holds the current pair, price and market cap of the tracked mint.
type Cache struct {
	mint      string
	fetcher   PairFetcher
	publisher Publisher
	store     storage.MarketStateStore
	logger    *zap.Logger

	refreshInterval   time.Duration
	keepAliveInterval time.Duration
	staleAfter        time.Duration
	now               func() time.Time

	refreshGroup singleflight.Group

	mu        sync.RWMutex
	resub     Resubscriber
	pair      string
	quote     string
	price     float64
	priceAt   time.Time
	marketCap float64
}

// NewCache creates a Cache. Zero durations select the defaults.
func NewCache(cfg Config) *Cache {
	c := &Cache{
		mint:              cfg.Mint,
		fetcher:           cfg.Fetcher,
		publisher:         cfg.Publisher,
		store:             cfg.Store,
		logger:            cfg.Logger,
		refreshInterval:   cfg.RefreshInterval,
		keepAliveInterval: cfg.KeepAliveInterval,
		staleAfter:        cfg.PriceStaleAfter,
		now:               time.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.refreshInterval <= 0 {
		c.refreshInterval = DefaultRefreshInterval
	}
	if c.keepAliveInterval <= 0 {
		c.keepAliveInterval = DefaultKeepAliveInterval
	}
	if c.staleAfter <= 0 {
		c.staleAfter = DefaultPriceStaleAfter
	}
	return c
}

// SetResubscriber attaches the component notified about pair changes.
// The log stream depends on the classifier which depends on this cache,
// so it cannot be passed to NewCache.
func (c *Cache) SetResubscriber(r Resubscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resub = r
}

// Price returns the last known price in SOL and whether it is fresh.
func (c *Cache) Price() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fresh := c.price > 0 && c.now().Sub(c.priceAt) < c.staleAfter
	return c.price, fresh
}

// Snapshot returns a copy of the cached market data.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		PairAddress:    c.pair,
		QuoteSymbol:    c.quote,
		PriceNative:    c.price,
		MarketCap:      c.marketCap,
		PriceUpdatedAt: c.priceAt,
	}
}

// Restore loads the persisted market state so the last market cap can be
// replayed before the first refresh. A missing record is not an error.
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	st, err := c.store.Get(ctx, c.mint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore market state: %w", err)
	}

	c.mu.Lock()
	c.pair = st.PairAddress
	c.quote = st.QuoteSymbol
	c.price = st.PriceNative // priceAt stays zero: never fresh
	c.marketCap = st.MarketCap
	c.mu.Unlock()

	observability.SetMarket(st.MarketCap, st.PriceNative)
	if st.MarketCap > 0 {
		c.publisher.Publish(domain.MarketCapEvent{MarketCap: st.MarketCap})
	}
	c.logger.Info("restored market state",
		zap.String("pair", st.PairAddress),
		zap.Float64("market_cap", st.MarketCap))
	return nil
}

// Refresh fetches the pairs, updates the cache, publishes a changed market
// cap and moves the subscription when the pair changed. Concurrent calls
// share one upstream request.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context) error {
	pairs, err := c.fetcher.FetchPairs(ctx, c.mint)
	if err != nil {
		observability.RecordMarketRefresh("error")
		return fmt.Errorf("fetch pairs: %w", err)
	}

	best, ok := SelectPair(pairs)
	if !ok {
		observability.RecordMarketRefresh("empty")
		c.logger.Debug("no pairs listed yet")
		return nil
	}
	observability.RecordMarketRefresh("ok")

	c.mu.Lock()
	pairChanged := best.Address != "" && best.Address != c.pair
	if best.Address != "" {
		c.pair = best.Address
		c.quote = best.QuoteSymbol
	}
	if best.PriceNative > 0 {
		c.price = best.PriceNative
		c.priceAt = c.now()
	}
	mcChanged := best.MarketCap > 0 && best.MarketCap != c.marketCap
	if mcChanged {
		c.marketCap = best.MarketCap
	}
	state := domain.MarketState{
		Mint:        c.mint,
		PairAddress: c.pair,
		QuoteSymbol: c.quote,
		PriceNative: c.price,
		MarketCap:   c.marketCap,
		UpdatedAt:   c.now().UnixMilli(),
	}
	resub := c.resub
	c.mu.Unlock()

	observability.SetMarket(state.MarketCap, state.PriceNative)

	if mcChanged {
		c.publisher.Publish(domain.MarketCapEvent{MarketCap: state.MarketCap})
	}
	if mcChanged || pairChanged {
		c.persist(ctx, &state)
	}

	if pairChanged {
		observability.RecordPairChange()
		c.logger.Info("using pair",
			zap.String("pair", state.PairAddress),
			zap.String("quote", best.QuoteSymbol),
			zap.Float64("liquidity_usd", best.LiquidityUSD))
		if resub != nil {
			resub.Reconnect(state.PairAddress, resub.HasSubscribed())
		}
	}
	return nil
}

func (c *Cache) persist(ctx context.Context, st *domain.MarketState) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, st); err != nil {
		c.logger.Warn("save market state failed", zap.Error(err))
	}
}

// KeepAlive republishes the last market cap, if any.
func (c *Cache) KeepAlive() {
	c.mu.RLock()
	mc := c.marketCap
	c.mu.RUnlock()
	if mc > 0 {
		c.publisher.Publish(domain.MarketCapEvent{MarketCap: mc})
	}
}

// Run refreshes on the refresh interval and republishes the market cap on the
// keep-alive interval until ctx is done. Refresh errors are logged.
func (c *Cache) Run(ctx context.Context) {
	refresh := time.NewTicker(c.refreshInterval)
	defer refresh.Stop()
	keepAlive := time.NewTicker(c.keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("market data refresh failed", zap.Error(err))
			}
		case <-keepAlive.C:
			c.KeepAlive()
		}
	}
}
