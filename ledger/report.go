/*
report.go - Period summaries over accounts, splits and manual edits

PURPOSE:
  Aggregates what happened in a Period. Rendering is left to callers; this
  file only produces numbers.

KEY INSIGHT:
  Every sign comes from BalanceEffect, the same rule the projector uses.
  A 120 grocery purchase is +120 on the expense account and -120 on cash,
  so ByType[expense] is 120 and ByType[asset] is -120.

MANUAL EDITS:
  Balance activity on asset and liability accounts has no counter-split.
  It is reported separately: an increase of net worth counts as income,
  a decrease as expense.

EXAMPLE:
  Cash 500 opening, Salary -> Cash 1000, Cash -> Groceries 120
  Income 1000, Expense 120, Net 880
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Report is the summary of one book over one period.
type Report struct {
	Period       Period
	Transactions int

	ByType map[AccountType]decimal.Decimal // balance effect per type
	ByPath map[string]decimal.Decimal      // balance effect per "Parent:Child"

	Income  decimal.Decimal // income accounts credited
	Expense decimal.Decimal // expense accounts debited

	ManualIncome  decimal.Decimal // positive net-worth balance edits
	ManualExpense decimal.Decimal // negative net-worth balance edits
}

// Net is income minus expense, including manual edits.
func (r Report) Net() decimal.Decimal {
	return r.Income.Add(r.ManualIncome).Sub(r.Expense).Sub(r.ManualExpense)
}

// Paths returns the account paths of the report, sorted.
func (r Report) Paths() []string {
	paths := make([]string, 0, len(r.ByPath))
	for p := range r.ByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Summarize aggregates the transactions and activities that fall within p.
// A zero period includes everything.
func Summarize(accounts []Account, txs []Transaction, activities []AccountActivity, p Period) Report {
	r := Report{
		Period:        p,
		ByType:        make(map[AccountType]decimal.Decimal, len(AccountTypes)),
		ByPath:        make(map[string]decimal.Decimal),
		Income:        decimal.Zero,
		Expense:       decimal.Zero,
		ManualIncome:  decimal.Zero,
		ManualExpense: decimal.Zero,
	}
	for _, t := range AccountTypes {
		r.ByType[t] = decimal.Zero
	}

	byID := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	paths := AccountPaths(accounts)

	for _, tx := range txs {
		if !p.IsZero() && !p.Contains(tx.Date) {
			continue
		}
		r.Transactions++
		for _, s := range tx.Splits {
			typ := s.AccountType
			if a, ok := byID[s.AccountID]; ok && typ == "" {
				typ = a.Type
			}
			effect := BalanceEffect(typ, s.Value)
			r.ByType[typ] = r.ByType[typ].Add(effect)

			path := paths[s.AccountID]
			if path == "" {
				path = s.AccountPath
			}
			r.ByPath[path] = r.ByPath[path].Add(effect)

			switch typ {
			case AccountIncome:
				r.Income = r.Income.Add(effect)
			case AccountExpense:
				r.Expense = r.Expense.Add(effect)
			}
		}
	}

	for _, act := range activities {
		if act.Kind != ActivityBalance {
			continue
		}
		if !p.IsZero() && !p.Contains(act.At) {
			continue
		}
		a, ok := byID[act.AccountID]
		if !ok {
			continue
		}
		// A liability edit moves net worth the other way.
		worth := act.Delta
		switch a.Type {
		case AccountAsset:
		case AccountLiability:
			worth = worth.Neg()
		default:
			continue
		}
		if worth.IsPositive() {
			r.ManualIncome = r.ManualIncome.Add(worth)
		} else {
			r.ManualExpense = r.ManualExpense.Add(worth.Neg())
		}
	}
	return r
}
