package classifier

import (
	"github.com/shopspring/decimal"

	"buywatch/internal/solana"
)

// Candidate is a signer that gained the tracked token and spent SOL in one transaction.
type Candidate struct {
	Owner        string
	BaseDelta    decimal.Decimal // tracked token gained, UI units
	LamportDelta int64           // always negative for a candidate
}

// BaseDeltaByOwner sums post minus pre balances of mint per owner.
// Entries without an owner cannot be attributed and are skipped.
func BaseDeltaByOwner(meta *solana.TransactionMeta, mint string) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal)
	for _, b := range meta.PreTokenBalances {
		if b.Mint != mint || b.Owner == "" {
			continue
		}
		deltas[b.Owner] = deltas[b.Owner].Sub(b.Amount)
	}
	for _, b := range meta.PostTokenBalances {
		if b.Mint != mint || b.Owner == "" {
			continue
		}
		deltas[b.Owner] = deltas[b.Owner].Add(b.Amount)
	}
	return deltas
}

// FindBuyer picks the buyer of mint in tx: among signers whose token delta is
// positive and whose lamport delta is negative, the one with the largest token
// delta. Equal deltas resolve to the signer listed first. Only the largest
// buyer of a multi-buyer transaction is reported.
func FindBuyer(tx *solana.Transaction, mint string) (Candidate, bool) {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return Candidate{}, false
	}
	meta := tx.Meta
	// A failed transaction moved no tokens.
	if meta.Err != nil {
		return Candidate{}, false
	}
	keys := tx.Message.AccountKeys
	if len(keys) == 0 || (len(meta.PreTokenBalances) == 0 && len(meta.PostTokenBalances) == 0) {
		return Candidate{}, false
	}

	deltas := BaseDeltaByOwner(meta, mint)

	var best Candidate
	found := false
	for i, key := range keys {
		if !key.Signer {
			continue
		}

		baseDelta, ok := deltas[key.Pubkey]
		if !ok || !baseDelta.IsPositive() {
			continue
		}
		lamports := meta.LamportDelta(i)
		if lamports >= 0 {
			continue
		}
		// PDAs never sign; an off-curve "signer" is malformed data.
		if !solana.IsOnCurve(key.Pubkey) {
			continue
		}

		if !found || baseDelta.GreaterThan(best.BaseDelta) {
			best = Candidate{Owner: key.Pubkey, BaseDelta: baseDelta, LamportDelta: lamports}
			found = true
		}
	}

	return best, found
}
