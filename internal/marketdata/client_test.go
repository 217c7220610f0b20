package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buywatch/internal/domain"
)

const pairsBody = `[
  {
    "chainId": "solana",
    "pairAddress": "PairUSDC",
    "priceNative": "0.15",
    "liquidity": {"usd": 900000},
    "marketCap": 2000000,
    "quoteToken": {"address": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "symbol": "USDC"}
  },
  {
    "chainId": "solana",
    "pairAddress": "PairSOL",
    "priceNative": "0.00001234",
    "liquidity": {"usd": 50000},
    "fdv": 1500000,
    "quoteToken": {"address": "So11111111111111111111111111111111111111112", "symbol": "SOL"}
  }
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, WithRestyClient(resty.NewWithClient(server.Client())))
}

func TestClient_FetchPairs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token-pairs/v1/solana/MintX", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pairsBody))
	})

	pairs, err := client.FetchPairs(context.Background(), "MintX")
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, "PairUSDC", pairs[0].Address)
	assert.Equal(t, "USDC", pairs[0].QuoteSymbol)
	assert.InDelta(t, 900000.0, pairs[0].LiquidityUSD, 0.001)
	assert.InDelta(t, 2000000.0, pairs[0].MarketCap, 0.001)

	assert.Equal(t, "PairSOL", pairs[1].Address)
	assert.InDelta(t, 0.00001234, pairs[1].PriceNative, 1e-12)
	assert.InDelta(t, 1500000.0, pairs[1].MarketCap, 0.001, "fdv used when marketCap missing")
}

func TestClient_FetchPairs_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	pairs, err := client.FetchPairs(context.Background(), "MintX")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestClient_FetchPairs_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchPairs(context.Background(), "MintX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_FetchPairs_MalformedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"`))
	})

	_, err := client.FetchPairs(context.Background(), "MintX")
	require.Error(t, err)
}

func TestClient_FetchPairs_GarbagePrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"pairAddress":"P","priceNative":"n/a","quoteToken":{"symbol":"SOL"}}]`))
	})

	pairs, err := client.FetchPairs(context.Background(), "MintX")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Zero(t, pairs[0].PriceNative)
	assert.Zero(t, pairs[0].LiquidityUSD)
}

func TestSelectPair(t *testing.T) {
	tests := []struct {
		name  string
		pairs []domain.TradingPair
		want  string
		ok    bool
	}{
		{name: "empty", ok: false},
		{
			name: "prefers SOL quote over deeper USDC pool",
			pairs: []domain.TradingPair{
				{Address: "usdc", QuoteSymbol: "USDC", LiquidityUSD: 1e6},
				{Address: "sol", QuoteSymbol: "SOL", LiquidityUSD: 1e3},
			},
			want: "sol", ok: true,
		},
		{
			name: "highest liquidity among SOL pairs",
			pairs: []domain.TradingPair{
				{Address: "a", QuoteSymbol: "SOL", LiquidityUSD: 10},
				{Address: "b", QuoteAddress: domain.WrappedSOLMint, LiquidityUSD: 20},
				{Address: "c", QuoteSymbol: "sol", LiquidityUSD: 5},
			},
			want: "b", ok: true,
		},
		{
			name: "falls back to highest liquidity overall",
			pairs: []domain.TradingPair{
				{Address: "x", QuoteSymbol: "USDC", LiquidityUSD: 10},
				{Address: "y", QuoteSymbol: "USDT", LiquidityUSD: 30},
			},
			want: "y", ok: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectPair(tt.pairs)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Address)
		})
	}
}
