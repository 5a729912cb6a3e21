/*
rules.go - Debit/credit sign convention and balance checks

PURPOSE:
  The single implementation of the accounting rules. Every computation that
  touches a balance (apply, reverse, display sign, report aggregation,
  verification) goes through BalanceEffect so the convention cannot drift.

SIGN CONVENTION:
  Debit-normal (asset, expense):    +value increases the balance
  Credit-normal (liability, income): +value decreases the balance

  Cash (asset)        -120  -> balance -120
  Groceries (expense) +120  -> balance +120
  Salary (income)     -3000 -> balance +3000

TOLERANCE:
  IsBalanced accepts |sum| < 0.01. This is an epsilon for currency
  arithmetic, not a precision guarantee.
*/
package ledger

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Tolerance is the largest split-sum still considered balanced (exclusive).
var Tolerance = decimal.NewFromFloat(0.01)

// Valid reports whether t is one of the four account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountIncome, AccountExpense:
		return true
	}
	return false
}

// DebitNormal reports whether a positive split value increases the balance.
func (t AccountType) DebitNormal() bool {
	return t == AccountAsset || t == AccountExpense
}

// BalanceEffect returns how much a split of the given value changes the
// balance of an account of type t.
func BalanceEffect(t AccountType, value decimal.Decimal) decimal.Decimal {
	if t.DebitNormal() {
		return value
	}
	return value.Neg()
}

// SplitSum returns the sum of all split values.
func SplitSum(splits []Split) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range splits {
		sum = sum.Add(s.Value)
	}
	return sum
}

// IsBalanced reports whether the split values sum to zero within Tolerance.
func IsBalanced(splits []Split) bool {
	return SplitSum(splits).Abs().LessThan(Tolerance)
}

// DebitsCredits splits the values into total debits (positive values) and
// total credits (absolute negative values).
func DebitsCredits(splits []Split) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, s := range splits {
		if s.Value.IsPositive() {
			debits = debits.Add(s.Value)
		} else {
			credits = credits.Add(s.Value.Neg())
		}
	}
	return debits, credits
}

// DisplayAmount is the signed amount shown for a split when viewed from
// its own account's register.
func DisplayAmount(s Split) decimal.Decimal {
	return BalanceEffect(s.AccountType, s.Value)
}

// =============================================================================
// CURRENCY
// =============================================================================

// NormalizeCurrency upper-cases and validates an ISO-4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || money.GetCurrency(code) == nil {
		return "", invalid("currency", "unknown currency %q", code)
	}
	return code, nil
}

// FormatMoney renders an amount in the currency's display format
// (e.g. "$100.00", "₹380.00"). Unknown currencies fall back to the
// plain decimal string.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
