/*
projection.go - Balance deltas for a set of splits

PURPOSE:
  Computes the net effect of a set of splits on each affected account's
  stored balance. Used for apply (create), reverse (delete) and the
  collapsed reverse-old + apply-new of an update.

GUARANTEE:
  Apply(S).Merge(Reverse(S)) is zero for every account, for any split set S.
  That round trip is what makes update and delete safe.

EXAMPLE:
  splits: Cash(asset) -120, Groceries(expense) +120
  Apply:   {Cash: -120, Groceries: +120}
  Reverse: {Cash: +120, Groceries: -120}
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Deltas maps accounts to the relative change of their stored balance.
type Deltas map[AccountID]decimal.Decimal

// Apply returns the balance change caused by persisting splits.
// Deltas for the same account accumulate.
func Apply(splits []Split) Deltas {
	d := make(Deltas, len(splits))
	for _, s := range splits {
		d[s.AccountID] = d[s.AccountID].Add(BalanceEffect(s.AccountType, s.Value))
	}
	return d
}

// Reverse returns the balance change caused by removing splits.
func Reverse(splits []Split) Deltas {
	return Apply(splits).Neg()
}

// Neg returns a copy with every delta negated.
func (d Deltas) Neg() Deltas {
	out := make(Deltas, len(d))
	for id, v := range d {
		out[id] = v.Neg()
	}
	return out
}

// Merge returns the per-account sum of d and other.
func (d Deltas) Merge(other Deltas) Deltas {
	out := make(Deltas, len(d)+len(other))
	for id, v := range d {
		out[id] = out[id].Add(v)
	}
	for id, v := range other {
		out[id] = out[id].Add(v)
	}
	return out
}

// Compact drops accounts whose delta is zero.
func (d Deltas) Compact() Deltas {
	out := make(Deltas, len(d))
	for id, v := range d {
		if !v.IsZero() {
			out[id] = v
		}
	}
	return out
}

// Accounts returns the affected account ids in a stable order, so stores
// touch rows in the same sequence and avoid lock-order inversions.
func (d Deltas) Accounts() []AccountID {
	ids := make([]AccountID, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
