// Package classifier decides whether a transaction is a buy of the tracked mint.
package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
	"buywatch/internal/solana"
)

// Outcome labels recorded per classification.
const (
	OutcomeBuy      = "buy"
	OutcomeNoBuyer  = "no_buyer"
	OutcomeTooSmall = "too_small"
	OutcomeNoPrice  = "no_price"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// PriceSource provides the current price of the tracked token in SOL.
type PriceSource interface {
	// Price returns the current price and whether it is fresh.
	Price() (float64, bool)
	// Refresh synchronously re-fetches market data.
	Refresh(ctx context.Context) error
}

// Classifier turns signatures into buy events.
type Classifier struct {
	rpc    solana.RPCClient
	prices PriceSource
	mint   string
	source string
	logger *zap.Logger
}

// Options contains configuration for creating a Classifier.
type Options struct {
	RPC    solana.RPCClient
	Prices PriceSource
	Mint   string
	Source string // defaults to domain.SourceRPCLogs
	Logger *zap.Logger
}

// New creates a Classifier.
func New(opts Options) *Classifier {
	c := &Classifier{
		rpc:    opts.RPC,
		prices: opts.Prices,
		mint:   opts.Mint,
		source: opts.Source,
		logger: opts.Logger,
	}
	if c.source == "" {
		c.source = domain.SourceRPCLogs
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Classify fetches the transaction and returns a buy event, or nil when the
// transaction is not a buy large enough to report.
func (c *Classifier) Classify(ctx context.Context, signature string) (*domain.BuyEvent, error) {
	start := time.Now()
	ev, outcome, err := c.classify(ctx, signature)
	observability.RecordClassification(outcome, time.Since(start).Seconds())
	return ev, err
}

func (c *Classifier) classify(ctx context.Context, signature string) (*domain.BuyEvent, string, error) {
	tx, err := c.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if tx == nil {
		return nil, OutcomeNotFound, nil
	}

	buyer, ok := FindBuyer(tx, c.mint)
	if !ok {
		return nil, OutcomeNoBuyer, nil
	}

	price := c.price(ctx)
	if price <= 0 {
		return nil, OutcomeNoPrice, nil
	}

	amount, _ := buyer.BaseDelta.Mul(decimal.NewFromFloat(price)).Float64()
	level := domain.LevelFor(amount)
	if level == 0 {
		c.logger.Debug("buy below threshold",
			zap.String("signature", signature),
			zap.Int64("slot", tx.Slot),
			zap.String("wallet", buyer.Owner),
			zap.Float64("amount_sol", amount))
		return nil, OutcomeTooSmall, nil
	}

	c.logger.Debug("buy classified",
		zap.String("signature", signature),
		zap.Int64("slot", tx.Slot),
		zap.Int64("block_time", tx.BlockTime),
		zap.String("wallet", buyer.Owner),
		zap.Int64("lamports_spent", -buyer.LamportDelta),
		zap.Float64("amount_sol", amount))

	return &domain.BuyEvent{
		Wallet:    buyer.Owner,
		AmountSol: amount,
		Level:     level,
		Signature: signature,
		Source:    c.source,
	}, OutcomeBuy, nil
}

// price returns the current price, refreshing market data first when the
// cached one is missing or stale. A stale price is still used if the refresh fails.
func (c *Classifier) price(ctx context.Context) float64 {
	price, fresh := c.prices.Price()
	if fresh {
		return price
	}
	if err := c.prices.Refresh(ctx); err != nil {
		c.logger.Warn("price refresh failed", zap.Error(err))
	}
	price, _ = c.prices.Price()
	return price
}
