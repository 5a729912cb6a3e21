/*
store.go - Persistence interface for books, accounts and transactions

PURPOSE:
  Defines the boundary between the ledger core and the backend. The core
  depends only on these capabilities:
  - point reads/writes by id
  - range queries filtered by book/account/date
  - an atomic unit (WithTx) spanning any number of writes

KEY INTERFACES:
  Store:   All reads and writes, scoped by BookID
  TxStore: Store plus WithTx for all-or-nothing multi-record writes

BALANCE WRITES:
  Stores never overwrite balances with values computed earlier.
  AdjustBalances adds relative deltas to whatever the balance is at
  commit time; ShiftAdjustment does the same for manual edits and moves
  Account.Adjustment by the same amount.

IMPLEMENTATIONS:
  - store/memory/memory.go: In-memory for tests and development
  - store/sqldb/sqldb.go: SQLite and PostgreSQL via database/sql

SEE ALSO:
  - ledger.go: The only writer of transactions and balances
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFilter selects transactions of one book. Zero fields are ignored.
type TransactionFilter struct {
	BookID      BookID
	AccountID   AccountID // transactions with a split on this account
	RecurringID RecurringID
	From        *time.Time // inclusive
	To          *time.Time // inclusive
	Limit       int
}

// Store handles persistence of every ledger record. Missing records are
// reported with NotFound(kind, id).
type Store interface {
	// Books
	SaveBook(ctx context.Context, b Book) error
	GetBook(ctx context.Context, id BookID) (Book, error)
	ListBooks(ctx context.Context, ownerID string) ([]Book, error) // "" = all owners
	DeleteBook(ctx context.Context, id BookID) error                // cascades to scoped records

	// Accounts
	InsertAccount(ctx context.Context, a Account) error
	// UpdateAccount writes metadata only; Balance and Adjustment are ignored.
	UpdateAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, bookID BookID, id AccountID) (Account, error)
	ListAccounts(ctx context.Context, bookID BookID) ([]Account, error)
	DeleteAccount(ctx context.Context, bookID BookID, id AccountID) error
	AdjustBalances(ctx context.Context, bookID BookID, deltas Deltas) error
	ShiftAdjustment(ctx context.Context, bookID BookID, id AccountID, delta decimal.Decimal) error

	// Transactions (header + splits are always written together)
	InsertTransaction(ctx context.Context, tx Transaction) error // ErrDuplicateIdempotencyKey
	ReplaceTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, bookID BookID, id TransactionID) (Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) // by Date, CreatedAt
	DeleteTransaction(ctx context.Context, bookID BookID, id TransactionID) error

	// Categories
	SaveCategory(ctx context.Context, c Category) error
	ListCategories(ctx context.Context, bookID BookID) ([]Category, error)
	DeleteCategory(ctx context.Context, bookID BookID, id CategoryID) error

	// Recurring
	SaveRecurring(ctx context.Context, r RecurringTransaction) error
	GetRecurring(ctx context.Context, bookID BookID, id RecurringID) (RecurringTransaction, error)
	ListRecurring(ctx context.Context, bookID BookID) ([]RecurringTransaction, error)
	// ListDueRecurring returns active schedules with NextRun <= asOf. "" = all books.
	ListDueRecurring(ctx context.Context, bookID BookID, asOf time.Time) ([]RecurringTransaction, error)
	DeleteRecurring(ctx context.Context, bookID BookID, id RecurringID) error

	// Account activity (append-only)
	AppendActivity(ctx context.Context, a AccountActivity) error
	ListActivities(ctx context.Context, bookID BookID, accountID AccountID) ([]AccountActivity, error) // "" = all accounts
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store it received
	// is rolled back. If fn returns nil, they are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}
