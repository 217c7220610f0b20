package solana

import (
	"context"

	"github.com/shopspring/decimal"
)

// RPCClient defines the Solana RPC HTTP calls the service depends on.
type RPCClient interface {
	// GetTransaction retrieves a confirmed, jsonParsed transaction by signature.
	// Returns nil, nil when the node does not know the transaction (yet).
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// Transaction represents a Solana transaction with balance metadata.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	PreBalances       []uint64 // lamports, indexed like Message.AccountKeys
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TransactionMessage contains the parsed transaction message.
type TransactionMessage struct {
	AccountKeys []AccountKey
}

// AccountKey is one entry of a jsonParsed message's account list.
type AccountKey struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

// TokenBalance is a pre/post SPL token balance entry.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       decimal.Decimal // UI amount (already scaled by decimals)
}

// LamportDelta returns post minus pre lamports for the account at index i.
// Missing entries count as zero.
func (m *TransactionMeta) LamportDelta(i int) int64 {
	var pre, post uint64
	if i >= 0 && i < len(m.PreBalances) {
		pre = m.PreBalances[i]
	}
	if i >= 0 && i < len(m.PostBalances) {
		post = m.PostBalances[i]
	}
	return int64(post) - int64(pre)
}
