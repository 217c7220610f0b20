package domain

import "strings"

// WrappedSOLMint is the SPL mint of wrapped SOL, used to recognise SOL-quoted pairs.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// TradingPair is the liquidity pool currently used for price math and log subscription.
// Exactly one pair is current at a time; switching is a discrete replacement.
type TradingPair struct {
	Address      string  // pool (pair) address
	QuoteSymbol  string  // e.g. "SOL"
	QuoteAddress string  // quote token mint
	LiquidityUSD float64 // liquidity metric used for selection
	PriceNative  float64 // price of one base token in quote units
	MarketCap    float64 // market cap, or FDV when market cap is unknown
}

// IsSOLQuoted reports whether the pair quotes the base token in SOL.
func (p TradingPair) IsSOLQuoted() bool {
	return p.QuoteAddress == WrappedSOLMint || strings.EqualFold(p.QuoteSymbol, "SOL")
}

// MarketState is the only persisted state: the last observed market cap per mint.
type MarketState struct {
	Mint        string
	PairAddress string
	QuoteSymbol string
	PriceNative float64
	MarketCap   float64
	UpdatedAt   int64 // unix ms
}
