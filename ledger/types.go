/*
Package ledger provides the double-entry bookkeeping core.

PURPOSE:
  This package turns user intents ("I spent 50 on groceries", "I got paid",
  "I moved money between accounts") into balanced sets of splits, keeps the
  denormalized account balances in step with those splits, and persists every
  change as one atomic unit through a pluggable Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: A named ledger node (asset, liability, income, expense)
  - Transaction: A ledger event carrying two or more splits
  - Split: One signed leg of a transaction, tied to exactly one account
  - Book: The isolation boundary every other record is scoped to
  - RecurringTransaction: A template plus a schedule
  - AccountActivity: Audit record of manual (non-split) account edits

DESIGN PRINCIPLES:
  1. One sign convention: BalanceEffect (rules.go) is the only place that
     knows asset/expense are debit-normal and liability/income credit-normal
  2. Precision: Money is decimal.Decimal, never float64
  3. Atomicity: Header, splits and balance deltas are written together
  4. Relative deltas: Balances are adjusted, never overwritten

USAGE:
  l := ledger.New(store, logger)
  tx, err := l.CreateSimple(ctx, bookID, ledger.TransferIntent{
      Header:        ledger.Header{Description: "Groceries", Date: today},
      FromAccountID: cashID,
      ToAccountID:   groceriesID,
      Amount:        decimal.NewFromInt(120),
  })

SEE ALSO:
  - rules.go: Sign convention and balance check
  - entries.go: Split construction from intents
  - projection.go: Balance deltas for apply/reverse
  - ledger.go: Atomic create/update/delete
  - recurring.go: Recurring materialization
  - books.go: Book scoping and default seeding
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookID string
type AccountID string
type TransactionID string
type SplitID string
type CategoryID string
type RecurringID string

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountIncome    AccountType = "income"
	AccountExpense   AccountType = "expense"
)

// AccountTypes lists every account type in display order.
var AccountTypes = []AccountType{AccountAsset, AccountLiability, AccountIncome, AccountExpense}

// Account is a ledger node. Balance is denormalized:
//
//	Balance == Adjustment + sum(BalanceEffect(Type, split.Value))
//
// over every split of a live transaction referencing the account.
// Adjustment accumulates the opening balance and every manual balance edit.
type Account struct {
	ID         AccountID
	BookID     BookID
	ParentID   AccountID // empty = top-level
	Name       string
	Type       AccountType
	Currency   string
	Balance    decimal.Decimal
	Adjustment decimal.Decimal
	Color      string
	Icon       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// TRANSACTION + SPLIT
// =============================================================================

// Split is one leg of a transaction. AccountPath and AccountType are
// snapshots taken when the transaction was built so history does not
// depend on current account naming.
type Split struct {
	ID            SplitID
	TransactionID TransactionID
	AccountID     AccountID
	AccountPath   string
	AccountType   AccountType
	Value         decimal.Decimal
	Memo          string
}

type Transaction struct {
	ID             TransactionID
	BookID         BookID
	UserID         string
	Description    string
	Date           time.Time
	Currency       string
	Notes          string
	CategoryID     CategoryID
	Tags           []string
	RecurringID    RecurringID // set when materialized from a schedule
	IdempotencyKey string
	Splits         []Split
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Kind classifies a transaction for display. It never participates in
// balance arithmetic.
type Kind string

const (
	KindIncome   Kind = "income"
	KindExpense  Kind = "expense"
	KindTransfer Kind = "transfer"
	KindSplit    Kind = "split" // recurring templates only
)

// =============================================================================
// BOOK + CATEGORY
// =============================================================================

type Book struct {
	ID        BookID
	OwnerID   string
	Name      string
	Currency  string
	IsDefault bool
	Settings  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID        CategoryID
	BookID    BookID
	Name      string
	Kind      Kind // income or expense
	Color     string
	Icon      string
	CreatedAt time.Time
}

// =============================================================================
// RECURRING TRANSACTION
// =============================================================================

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// Template is the transaction shape a schedule materializes.
// Kind selects which fields are used:
//
//	income, expense, transfer: FromAccountID -> ToAccountID for Amount
//	split:                     Entries
type Template struct {
	Description   string
	Currency      string
	Notes         string
	CategoryID    CategoryID
	Tags          []string
	Kind          Kind
	FromAccountID AccountID
	ToAccountID   AccountID
	Amount        decimal.Decimal
	Entries       []Entry
}

type RecurringTransaction struct {
	ID        RecurringID
	BookID    BookID
	Frequency Frequency
	Interval  int
	StartDate time.Time
	NextRun   time.Time // next unmaterialized occurrence
	LastRun   *time.Time
	Active    bool
	Template  Template
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ACCOUNT ACTIVITY - Audit of manual account edits
// =============================================================================

type ActivityKind string

const (
	ActivityOpening  ActivityKind = "opening"
	ActivityBalance  ActivityKind = "balance"
	ActivityCurrency ActivityKind = "currency"
	ActivityName     ActivityKind = "name"
)

type AccountActivity struct {
	ID        string
	BookID    BookID
	AccountID AccountID
	Kind      ActivityKind
	OldValue  string
	NewValue  string
	Delta     decimal.Decimal // balance effect for opening/balance edits, zero otherwise
	Note      string
	At        time.Time
}
