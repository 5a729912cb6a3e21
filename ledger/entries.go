/*
entries.go - Split construction from high-level intents

PURPOSE:
  Builds valid split sets for the canonical transaction shapes. The factory
  only guarantees that values are additive inverses (or balance across a
  multi-way split); the sign convention is applied later by the projector.

INTENT SHAPES (a sealed tagged variant):
  TransferIntent: from -> to for a positive amount (expense, income, transfer)
  SplitIntent:    arbitrary (account, amount, debit|credit) entries
  LegacyIntent:   flat accountId/toAccountId/amount/type fields

NORMALIZATION:
  Normalize is the single boundary that turns any Intent into canonical
  splits. Nothing after it branches on which shape was received.

  Expense of 120 from Cash to Groceries:
    Cash      -120
    Groceries +120
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// INTENTS
// =============================================================================

// Header carries the non-split fields of a transaction.
type Header struct {
	UserID         string
	Description    string
	Date           time.Time
	Currency       string // defaults to the book currency
	Notes          string
	CategoryID     CategoryID
	Tags           []string
	IdempotencyKey string
}

// Intent is implemented by TransferIntent, SplitIntent and LegacyIntent.
type Intent interface {
	header() Header
	isIntent()
}

// TransferIntent moves a positive amount from one account to another.
type TransferIntent struct {
	Header
	FromAccountID AccountID
	ToAccountID   AccountID
	Amount        decimal.Decimal
}

// SplitIntent is an arbitrary multi-way split.
type SplitIntent struct {
	Header
	Entries []Entry
}

// LegacyIntent is the flat single-entry shape kept for backward compatibility.
type LegacyIntent struct {
	Header
	AccountID   AccountID
	ToAccountID AccountID
	Amount      decimal.Decimal
	Type        Kind // income, expense or transfer
}

func (i TransferIntent) header() Header { return i.Header }
func (i SplitIntent) header() Header    { return i.Header }
func (i LegacyIntent) header() Header   { return i.Header }
func (TransferIntent) isIntent()        {}
func (SplitIntent) isIntent()           {}
func (LegacyIntent) isIntent()          {}

type Side string

const (
	Debit  Side = "debit"
	Credit Side = "credit"
)

// Entry is one caller-supplied line of a multi-way split.
type Entry struct {
	AccountID AccountID
	Amount    decimal.Decimal // positive
	Side      Side
	Memo      string
}

// AccountResolver looks up the accounts referenced by an intent.
type AccountResolver func(id AccountID) (Account, error)

// =============================================================================
// FACTORY
// =============================================================================

// TransferSplits emits exactly two splits: from gets -amount, to gets +amount.
func TransferSplits(from, to Account, amount decimal.Decimal, paths map[AccountID]string) ([]Split, error) {
	if !amount.IsPositive() {
		return nil, invalid("amount", "amount must be positive, got %s", amount)
	}
	if from.ID == "" || to.ID == "" {
		return nil, invalid("account", "source and destination accounts are required")
	}
	if from.ID == to.ID {
		return nil, invalid("account", "source and destination must differ")
	}
	return []Split{
		newSplit(from, amount.Neg(), "", paths),
		newSplit(to, amount, "", paths),
	}, nil
}

// MultiSplits converts entries into signed splits (debit +, credit -) and
// validates that they balance.
func MultiSplits(entries []Entry, resolve AccountResolver, paths map[AccountID]string) ([]Split, error) {
	var splits []Split
	for i, e := range entries {
		if e.AccountID == "" {
			return nil, invalid(fmt.Sprintf("entries[%d].account", i), "account is required")
		}
		if !e.Amount.IsPositive() {
			return nil, invalid(fmt.Sprintf("entries[%d].amount", i), "amount must be positive, got %s", e.Amount)
		}
		var value decimal.Decimal
		switch e.Side {
		case Debit:
			value = e.Amount
		case Credit:
			value = e.Amount.Neg()
		default:
			return nil, invalid(fmt.Sprintf("entries[%d].side", i), "side must be debit or credit, got %q", e.Side)
		}
		acc, err := resolve(e.AccountID)
		if err != nil {
			return nil, err
		}
		splits = append(splits, newSplit(acc, value, e.Memo, paths))
	}
	if len(splits) < 2 {
		return nil, invalid("entries", "a split transaction needs at least two entries, got %d", len(splits))
	}
	if !IsBalanced(splits) {
		debits, credits := DebitsCredits(splits)
		return nil, invalid("entries", "debits (%s) must equal credits (%s)", debits.StringFixed(2), credits.StringFixed(2))
	}
	return splits, nil
}

// legacyDirection maps flat fields onto a from/to pair.
// Income flows from the income account (ToAccountID) into AccountID;
// expense and transfer flow from AccountID to ToAccountID.
func legacyDirection(i LegacyIntent) (from, to AccountID, err error) {
	switch i.Type {
	case KindIncome:
		return i.ToAccountID, i.AccountID, nil
	case KindExpense, KindTransfer, "":
		return i.AccountID, i.ToAccountID, nil
	default:
		return "", "", invalid("type", "unknown legacy type %q", i.Type)
	}
}

// Normalize turns any intent into canonical splits.
func Normalize(intent Intent, resolve AccountResolver, paths map[AccountID]string) ([]Split, error) {
	switch in := intent.(type) {
	case TransferIntent:
		return transfer(in.FromAccountID, in.ToAccountID, in.Amount, resolve, paths)
	case SplitIntent:
		return MultiSplits(in.Entries, resolve, paths)
	case LegacyIntent:
		from, to, err := legacyDirection(in)
		if err != nil {
			return nil, err
		}
		return transfer(from, to, in.Amount, resolve, paths)
	case nil:
		return nil, invalid("intent", "intent is required")
	default:
		return nil, invalid("intent", "unsupported intent %T", intent)
	}
}

func transfer(fromID, toID AccountID, amount decimal.Decimal, resolve AccountResolver, paths map[AccountID]string) ([]Split, error) {
	if fromID == "" || toID == "" {
		return nil, invalid("account", "source and destination accounts are required")
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", "amount must be positive, got %s", amount)
	}
	from, err := resolve(fromID)
	if err != nil {
		return nil, err
	}
	to, err := resolve(toID)
	if err != nil {
		return nil, err
	}
	return TransferSplits(from, to, amount, paths)
}

func newSplit(acc Account, value decimal.Decimal, memo string, paths map[AccountID]string) Split {
	path := paths[acc.ID]
	if path == "" {
		path = acc.Name
	}
	return Split{
		ID:          SplitID(uuid.NewString()),
		AccountID:   acc.ID,
		AccountPath: path,
		AccountType: acc.Type,
		Value:       value,
		Memo:        memo,
	}
}

// =============================================================================
// DISPLAY CLASSIFICATION
// =============================================================================

// InferKind classifies a transaction as income, expense or transfer.
// When both an income and an expense account take part, the viewed
// account's sign decides: money arriving reads as income.
func InferKind(splits []Split, viewed AccountID) Kind {
	var hasIncome, hasExpense bool
	for _, s := range splits {
		switch s.AccountType {
		case AccountIncome:
			hasIncome = true
		case AccountExpense:
			hasExpense = true
		}
	}
	switch {
	case hasIncome && hasExpense:
		for _, s := range splits {
			if s.AccountID != viewed {
				continue
			}
			switch {
			case s.AccountType == AccountIncome:
				return KindIncome
			case s.AccountType == AccountExpense:
				return KindExpense
			case s.Value.IsPositive():
				return KindIncome
			default:
				return KindExpense
			}
		}
		return KindExpense
	case hasIncome:
		return KindIncome
	case hasExpense:
		return KindExpense
	default:
		return KindTransfer
	}
}

// =============================================================================
// ACCOUNT PATHS
// =============================================================================

// AccountPaths builds "Parent:Child" names for every account.
func AccountPaths(accounts []Account) map[AccountID]string {
	byID := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	paths := make(map[AccountID]string, len(accounts))
	for _, a := range accounts {
		parts := []string{a.Name}
		seen := map[AccountID]bool{a.ID: true}
		for p := a.ParentID; p != "" && !seen[p]; {
			parent, ok := byID[p]
			if !ok {
				break
			}
			seen[p] = true
			parts = append([]string{parent.Name}, parts...)
			p = parent.ParentID
		}
		paths[a.ID] = strings.Join(parts, ":")
	}
	return paths
}
