// Package marketdata tracks the tracked token's trading pair, price and market cap.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"buywatch/internal/domain"
)

// DefaultBaseURL is the public DexScreener API.
const DefaultBaseURL = "https://api.dexscreener.com"

// PairFetcher lists the trading pairs of a Solana token.
type PairFetcher interface {
	FetchPairs(ctx context.Context, mint string) ([]domain.TradingPair, error)
}

// Client queries DexScreener for token pairs.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithRestyClient replaces the underlying resty client.
func WithRestyClient(rc *resty.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = rc
	}
}

// NewClient creates a DexScreener client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ PairFetcher = (*Client)(nil)

// dexPair is the subset of a DexScreener pair object we read.
type dexPair struct {
	PairAddress string `json:"pairAddress"`
	PriceNative string `json:"priceNative"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	MarketCap  float64 `json:"marketCap"`
	FDV        float64 `json:"fdv"`
	QuoteToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"quoteToken"`
}

// FetchPairs returns all pairs DexScreener knows for mint. An unknown token
// yields an empty slice.
func (c *Client) FetchPairs(ctx context.Context, mint string) ([]domain.TradingPair, error) {
	url := fmt.Sprintf("%s/token-pairs/v1/solana/%s", c.baseURL, mint)

	resp, err := c.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var raw []dexPair
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	pairs := make([]domain.TradingPair, 0, len(raw))
	for _, p := range raw {
		pairs = append(pairs, p.toDomain())
	}
	return pairs, nil
}

func (p dexPair) toDomain() domain.TradingPair {
	// priceNative arrives as a decimal string; garbage reads as zero.
	price, _ := strconv.ParseFloat(p.PriceNative, 64)

	mc := p.MarketCap
	if mc == 0 {
		mc = p.FDV
	}

	tp := domain.TradingPair{
		Address:      p.PairAddress,
		QuoteSymbol:  p.QuoteToken.Symbol,
		QuoteAddress: p.QuoteToken.Address,
		PriceNative:  price,
		MarketCap:    mc,
	}
	if p.Liquidity != nil {
		tp.LiquidityUSD = p.Liquidity.USD
	}
	return tp
}

// SelectPair picks the SOL-quoted pair with the highest USD liquidity,
// falling back to the highest-liquidity pair overall.
func SelectPair(pairs []domain.TradingPair) (domain.TradingPair, bool) {
	if len(pairs) == 0 {
		return domain.TradingPair{}, false
	}

	best := -1
	for i, p := range pairs {
		if !p.IsSOLQuoted() {
			continue
		}
		if best < 0 || p.LiquidityUSD > pairs[best].LiquidityUSD {
			best = i
		}
	}
	if best >= 0 {
		return pairs[best], true
	}

	best = 0
	for i, p := range pairs {
		if p.LiquidityUSD > pairs[best].LiquidityUSD {
			best = i
		}
	}
	return pairs[best], true
}
