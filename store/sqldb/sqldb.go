/*
Package sqldb provides a database/sql implementation of ledger.TxStore.

PURPOSE:
  Persists books, accounts, transactions (header + splits), categories,
  recurring schedules and account activity. The same SQL runs on SQLite
  (mattn/go-sqlite3) and PostgreSQL (lib/pq); only placeholders and row
  locking differ.

KEY TABLES:
  books:        One row per book, settings as JSON
  accounts:     Balance and Adjustment stored as decimal TEXT
  transactions: Headers; tags as JSON
  splits:       Signed values with account path/type snapshots
  categories:   Book-scoped labels
  recurring:    Schedule cursor plus template JSON
  activities:   Append-only manual-edit audit

INDEXES:
  - idx_transactions_idempotency: unique (book_id, idempotency_key),
    the replay guard for recurring occurrences
  - idx_transactions_book_date: ListTransactions hot path
  - idx_splits_account: account filter and cascade deletes
  - idx_recurring_due: ListDueRecurring

CONCURRENCY:
  SQLite runs on a single connection, so atomic units are serialized by
  database/sql itself. Inside WithTx every call must go through the Store
  handed to fn. PostgreSQL locks account rows with SELECT ... FOR UPDATE
  before applying balance deltas.

USAGE:
  db, err := sqldb.New("./data/bookkeeper.db")
  if err != nil {
      log.Fatal(err)
  }
  defer db.Close()

  l := ledger.New(db, logger)

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/bookkeeper/ledger"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// DB implements ledger.TxStore on a *sql.DB.
type DB struct {
	*queries
	db *sql.DB
}

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*DB, error) {
	return Open(DriverSQLite, dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
}

// Open connects with the given driver and migrates the schema.
func Open(driver, dsn string) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" a single database and serializes writers.
		db.SetMaxOpenConns(1)
	}

	store := &DB{db: db, queries: &queries{q: db, driver: driver}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		settings_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_owner
		ON books(owner_id);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		adjustment TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (book_id, id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		date TEXT NOT NULL,
		currency TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL DEFAULT '',
		tags_json TEXT,
		recurring_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (book_id, id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(book_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_book_date
		ON transactions(book_id, date, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_recurring
		ON transactions(book_id, recurring_id, date);

	CREATE TABLE IF NOT EXISTS splits (
		id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		account_path TEXT NOT NULL DEFAULT '',
		account_type TEXT NOT NULL,
		value TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (book_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_splits_transaction
		ON splits(book_id, transaction_id, position);
	CREATE INDEX IF NOT EXISTS idx_splits_account
		ON splits(book_id, account_id);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_categories_book
		ON categories(book_id);

	CREATE TABLE IF NOT EXISTS recurring (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		frequency TEXT NOT NULL,
		interval_n INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		next_run TEXT NOT NULL,
		last_run TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		template_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recurring_due
		ON recurring(active, next_run);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		delta TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_account
		ON activities(book_id, account_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *DB) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx, driver: s.driver, inTx: true}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AdjustBalances outside WithTx still applies all deltas or none.
func (s *DB) AdjustBalances(ctx context.Context, bookID ledger.BookID, deltas ledger.Deltas) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.AdjustBalances(ctx, bookID, deltas)
	})
}

// InsertTransaction outside WithTx writes header and splits together.
func (s *DB) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.InsertTransaction(ctx, tx)
	})
}

// ReplaceTransaction outside WithTx swaps header and splits together.
func (s *DB) ReplaceTransaction(ctx context.Context, tx ledger.Transaction) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.ReplaceTransaction(ctx, tx)
	})
}

// DeleteBook outside WithTx cascades atomically.
func (s *DB) DeleteBook(ctx context.Context, id ledger.BookID) error {
	return s.WithTx(ctx, func(st ledger.Store) error {
		return st.DeleteBook(ctx, id)
	})
}

// =============================================================================
// QUERIES - ledger.Store over a *sql.DB or *sql.Tx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q      dbtx
	driver string
	inTx   bool
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *queries) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// forUpdate is the row-lock suffix for reads that precede a write.
func (s *queries) forUpdate() string {
	if s.driver == DriverPostgres && s.inTx {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// BOOKS
// =============================================================================

const bookColumns = `id, owner_id, name, currency, is_default, settings_json, created_at, updated_at`

func (s *queries) SaveBook(ctx context.Context, b ledger.Book) error {
	settings, err := marshalJSON(b.Settings)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			is_default = excluded.is_default,
			settings_json = excluded.settings_json,
			updated_at = excluded.updated_at
	`, b.ID, b.OwnerID, b.Name, b.Currency, b.IsDefault, settings, fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

func (s *queries) GetBook(ctx context.Context, id ledger.BookID) (ledger.Book, error) {
	row := s.queryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Book{}, ledger.NotFound("book", id)
	}
	return b, err
}

func (s *queries) ListBooks(ctx context.Context, ownerID string) ([]ledger.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	rows, err := s.query(ctx, query+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []ledger.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (s *queries) DeleteBook(ctx context.Context, id ledger.BookID) error {
	res, err := s.exec(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("book", id)
	}
	for _, table := range []string{"splits", "transactions", "accounts", "categories", "recurring", "activities"} {
		if _, err := s.exec(ctx, `DELETE FROM `+table+` WHERE book_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s of book: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, book_id, parent_id, name, type, currency, balance, adjustment, color, icon, created_at, updated_at`

func (s *queries) InsertAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.BookID, a.ParentID, a.Name, a.Type, a.Currency, a.Balance.String(), a.Adjustment.String(),
		a.Color, a.Icon, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *queries) UpdateAccount(ctx context.Context, a ledger.Account) error {
	res, err := s.exec(ctx, `
		UPDATE accounts
		SET parent_id = ?, name = ?, type = ?, currency = ?, color = ?, icon = ?, updated_at = ?
		WHERE book_id = ? AND id = ?
	`, a.ParentID, a.Name, a.Type, a.Currency, a.Color, a.Icon, fmtTime(a.UpdatedAt), a.BookID, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("account", a.ID)
	}
	return nil
}

func (s *queries) GetAccount(ctx context.Context, bookID ledger.BookID, id ledger.AccountID) (ledger.Account, error) {
	return s.getAccount(ctx, bookID, id, "")
}

func (s *queries) getAccount(ctx context.Context, bookID ledger.BookID, id ledger.AccountID, lock string) (ledger.Account, error) {
	row := s.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE book_id = ? AND id = ?`+lock, bookID, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.NotFound("account", id)
	}
	return a, err
}

func (s *queries) ListAccounts(ctx context.Context, bookID ledger.BookID) ([]ledger.Account, error) {
	rows, err := s.query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE book_id = ?
		ORDER BY created_at ASC, id ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *queries) DeleteAccount(ctx context.Context, bookID ledger.BookID, id ledger.AccountID) error {
	res, err := s.exec(ctx, `DELETE FROM accounts WHERE book_id = ? AND id = ?`, bookID, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("account", id)
	}
	return nil
}

// AdjustBalances reads each balance (locked on PostgreSQL) and writes
// balance + delta. Accounts are visited in sorted order.
func (s *queries) AdjustBalances(ctx context.Context, bookID ledger.BookID, deltas ledger.Deltas) error {
	for _, id := range deltas.Accounts() {
		a, err := s.getAccount(ctx, bookID, id, s.forUpdate())
		if err != nil {
			return err
		}
		if _, err := s.exec(ctx, `UPDATE accounts SET balance = ? WHERE book_id = ? AND id = ?`,
			a.Balance.Add(deltas[id]).String(), bookID, id); err != nil {
			return fmt.Errorf("failed to adjust balance: %w", err)
		}
	}
	return nil
}

func (s *queries) ShiftAdjustment(ctx context.Context, bookID ledger.BookID, id ledger.AccountID, delta decimal.Decimal) error {
	a, err := s.getAccount(ctx, bookID, id, s.forUpdate())
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `UPDATE accounts SET balance = ?, adjustment = ? WHERE book_id = ? AND id = ?`,
		a.Balance.Add(delta).String(), a.Adjustment.Add(delta).String(), bookID, id)
	if err != nil {
		return fmt.Errorf("failed to shift adjustment: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, book_id, user_id, description, date, currency, notes, category_id, tags_json, recurring_id, idempotency_key, created_at, updated_at`

func (s *queries) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	tags, err := marshalJSON(tx.Tags)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.BookID, tx.UserID, tx.Description, fmtDate(tx.Date), tx.Currency, tx.Notes,
		tx.CategoryID, tags, tx.RecurringID, nullString(tx.IdempotencyKey), fmtTime(tx.CreatedAt), fmtTime(tx.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return s.insertSplits(ctx, tx)
}

func (s *queries) insertSplits(ctx context.Context, tx ledger.Transaction) error {
	for i, sp := range tx.Splits {
		_, err := s.exec(ctx, `
			INSERT INTO splits (id, book_id, transaction_id, position, account_id, account_path, account_type, value, memo)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sp.ID, tx.BookID, tx.ID, i, sp.AccountID, sp.AccountPath, sp.AccountType, sp.Value.String(), sp.Memo)
		if err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}
	return nil
}

func (s *queries) ReplaceTransaction(ctx context.Context, tx ledger.Transaction) error {
	tags, err := marshalJSON(tx.Tags)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `
		UPDATE transactions
		SET user_id = ?, description = ?, date = ?, currency = ?, notes = ?, category_id = ?,
		    tags_json = ?, recurring_id = ?, idempotency_key = ?, updated_at = ?
		WHERE book_id = ? AND id = ?
	`, tx.UserID, tx.Description, fmtDate(tx.Date), tx.Currency, tx.Notes, tx.CategoryID,
		tags, tx.RecurringID, nullString(tx.IdempotencyKey), fmtTime(tx.UpdatedAt), tx.BookID, tx.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("transaction", tx.ID)
	}
	if _, err := s.exec(ctx, `DELETE FROM splits WHERE book_id = ? AND transaction_id = ?`, tx.BookID, tx.ID); err != nil {
		return fmt.Errorf("failed to replace splits: %w", err)
	}
	return s.insertSplits(ctx, tx)
}

func (s *queries) GetTransaction(ctx context.Context, bookID ledger.BookID, id ledger.TransactionID) (ledger.Transaction, error) {
	row := s.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE book_id = ? AND id = ?`, bookID, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.NotFound("transaction", id)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Splits, err = s.loadSplits(ctx, bookID, id); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *queries) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE book_id = ?`
	args := []any{f.BookID}
	if f.AccountID != "" {
		query += ` AND id IN (SELECT transaction_id FROM splits WHERE book_id = ? AND account_id = ?)`
		args = append(args, f.BookID, f.AccountID)
	}
	if f.RecurringID != "" {
		query += ` AND recurring_id = ?`
		args = append(args, f.RecurringID)
	}
	if f.From != nil {
		query += ` AND date >= ?`
		args = append(args, fmtDate(*f.From))
	}
	if f.To != nil {
		query += ` AND date <= ?`
		args = append(args, fmtDate(*f.To))
	}
	query += ` ORDER BY date ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(f.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		txs = append(txs, tx)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Splits are loaded after the header rows are closed; SQLite has one connection.
	for i := range txs {
		if txs[i].Splits, err = s.loadSplits(ctx, f.BookID, txs[i].ID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func (s *queries) loadSplits(ctx context.Context, bookID ledger.BookID, txID ledger.TransactionID) ([]ledger.Split, error) {
	rows, err := s.query(ctx, `
		SELECT id, transaction_id, account_id, account_path, account_type, value, memo
		FROM splits
		WHERE book_id = ? AND transaction_id = ?
		ORDER BY position ASC
	`, bookID, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to query splits: %w", err)
	}
	defer rows.Close()

	var splits []ledger.Split
	for rows.Next() {
		var (
			sp    ledger.Split
			value string
		)
		if err := rows.Scan(&sp.ID, &sp.TransactionID, &sp.AccountID, &sp.AccountPath, &sp.AccountType, &value, &sp.Memo); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		if sp.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("invalid split value %q: %w", value, err)
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

func (s *queries) DeleteTransaction(ctx context.Context, bookID ledger.BookID, id ledger.TransactionID) error {
	res, err := s.exec(ctx, `DELETE FROM transactions WHERE book_id = ? AND id = ?`, bookID, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("transaction", id)
	}
	if _, err := s.exec(ctx, `DELETE FROM splits WHERE book_id = ? AND transaction_id = ?`, bookID, id); err != nil {
		return fmt.Errorf("failed to delete splits: %w", err)
	}
	return nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *queries) SaveCategory(ctx context.Context, c ledger.Category) error {
	_, err := s.exec(ctx, `
		INSERT INTO categories (id, book_id, name, kind, color, icon, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			color = excluded.color,
			icon = excluded.icon
	`, c.ID, c.BookID, c.Name, c.Kind, c.Color, c.Icon, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *queries) ListCategories(ctx context.Context, bookID ledger.BookID) ([]ledger.Category, error) {
	rows, err := s.query(ctx, `
		SELECT id, book_id, name, kind, color, icon, created_at
		FROM categories WHERE book_id = ?
		ORDER BY name ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []ledger.Category
	for rows.Next() {
		var (
			c         ledger.Category
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.BookID, &c.Name, &c.Kind, &c.Color, &c.Icon, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *queries) DeleteCategory(ctx context.Context, bookID ledger.BookID, id ledger.CategoryID) error {
	res, err := s.exec(ctx, `DELETE FROM categories WHERE book_id = ? AND id = ?`, bookID, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("category", id)
	}
	return nil
}

// =============================================================================
// RECURRING
// =============================================================================

const recurringColumns = `id, book_id, frequency, interval_n, start_date, next_run, last_run, active, template_json, created_at, updated_at`

func (s *queries) SaveRecurring(ctx context.Context, r ledger.RecurringTransaction) error {
	tmpl, err := json.Marshal(r.Template)
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	var lastRun sql.NullString
	if r.LastRun != nil {
		lastRun = nullString(fmtDate(*r.LastRun))
	}
	_, err = s.exec(ctx, `
		INSERT INTO recurring (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			frequency = excluded.frequency,
			interval_n = excluded.interval_n,
			start_date = excluded.start_date,
			next_run = excluded.next_run,
			last_run = excluded.last_run,
			active = excluded.active,
			template_json = excluded.template_json,
			updated_at = excluded.updated_at
	`, r.ID, r.BookID, r.Frequency, r.Interval, fmtDate(r.StartDate), fmtDate(r.NextRun), lastRun,
		r.Active, string(tmpl), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save recurring: %w", err)
	}
	return nil
}

func (s *queries) GetRecurring(ctx context.Context, bookID ledger.BookID, id ledger.RecurringID) (ledger.RecurringTransaction, error) {
	row := s.queryRow(ctx, `SELECT `+recurringColumns+` FROM recurring WHERE book_id = ? AND id = ?`, bookID, id)
	r, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.RecurringTransaction{}, ledger.NotFound("recurring", id)
	}
	return r, err
}

func (s *queries) ListRecurring(ctx context.Context, bookID ledger.BookID) ([]ledger.RecurringTransaction, error) {
	return s.queryRecurring(ctx, `
		SELECT `+recurringColumns+` FROM recurring
		WHERE book_id = ?
		ORDER BY next_run ASC, id ASC
	`, bookID)
}

func (s *queries) ListDueRecurring(ctx context.Context, bookID ledger.BookID, asOf time.Time) ([]ledger.RecurringTransaction, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring WHERE active = ? AND next_run <= ?`
	args := []any{true, fmtDate(asOf)}
	if bookID != "" {
		query += ` AND book_id = ?`
		args = append(args, bookID)
	}
	return s.queryRecurring(ctx, query+` ORDER BY next_run ASC, id ASC`, args...)
}

func (s *queries) queryRecurring(ctx context.Context, query string, args ...any) ([]ledger.RecurringTransaction, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring: %w", err)
	}
	defer rows.Close()

	var out []ledger.RecurringTransaction
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *queries) DeleteRecurring(ctx context.Context, bookID ledger.BookID, id ledger.RecurringID) error {
	res, err := s.exec(ctx, `DELETE FROM recurring WHERE book_id = ? AND id = ?`, bookID, id)
	if err != nil {
		return fmt.Errorf("failed to delete recurring: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("recurring", id)
	}
	return nil
}

// =============================================================================
// ACTIVITY
// =============================================================================

func (s *queries) AppendActivity(ctx context.Context, a ledger.AccountActivity) error {
	_, err := s.exec(ctx, `
		INSERT INTO activities (id, book_id, account_id, kind, old_value, new_value, delta, note, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.BookID, a.AccountID, a.Kind, a.OldValue, a.NewValue, a.Delta.String(), a.Note, fmtTime(a.At))
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *queries) ListActivities(ctx context.Context, bookID ledger.BookID, accountID ledger.AccountID) ([]ledger.AccountActivity, error) {
	query := `SELECT id, book_id, account_id, kind, old_value, new_value, delta, note, at FROM activities WHERE book_id = ?`
	args := []any{bookID}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	rows, err := s.query(ctx, query+` ORDER BY at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []ledger.AccountActivity
	for rows.Next() {
		var (
			a         ledger.AccountActivity
			delta, at string
		)
		if err := rows.Scan(&a.ID, &a.BookID, &a.AccountID, &a.Kind, &a.OldValue, &a.NewValue, &delta, &a.Note, &at); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if a.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("invalid activity delta %q: %w", delta, err)
		}
		if a.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (ledger.Book, error) {
	var (
		b                    ledger.Book
		settings             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Currency, &b.IsDefault, &settings, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan book: %w", err)
	}
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &b.Settings); err != nil {
			return b, fmt.Errorf("invalid book settings: %w", err)
		}
	}
	var err error
	b.CreatedAt, b.UpdatedAt, err = parseStamps(createdAt, updatedAt)
	return b, err
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a                    ledger.Account
		balance, adjustment  string
		createdAt, updatedAt string
	)
	err := row.Scan(&a.ID, &a.BookID, &a.ParentID, &a.Name, &a.Type, &a.Currency,
		&balance, &adjustment, &a.Color, &a.Icon, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return a, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	if a.Adjustment, err = decimal.NewFromString(adjustment); err != nil {
		return a, fmt.Errorf("invalid adjustment %q: %w", adjustment, err)
	}
	a.CreatedAt, a.UpdatedAt, err = parseStamps(createdAt, updatedAt)
	return a, err
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx                   ledger.Transaction
		date                 string
		tags, idempotencyKey sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&tx.ID, &tx.BookID, &tx.UserID, &tx.Description, &date, &tx.Currency, &tx.Notes,
		&tx.CategoryID, &tags, &tx.RecurringID, &idempotencyKey, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &tx.Tags); err != nil {
			return tx, fmt.Errorf("invalid transaction tags: %w", err)
		}
	}
	if tx.Date, err = parseDate(date); err != nil {
		return tx, err
	}
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt, tx.UpdatedAt, err = parseStamps(createdAt, updatedAt)
	return tx, err
}

func scanRecurring(row scanner) (ledger.RecurringTransaction, error) {
	var (
		r                    ledger.RecurringTransaction
		start, next          string
		lastRun              sql.NullString
		tmpl                 string
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.BookID, &r.Frequency, &r.Interval, &start, &next, &lastRun,
		&r.Active, &tmpl, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan recurring: %w", err)
	}
	if err := json.Unmarshal([]byte(tmpl), &r.Template); err != nil {
		return r, fmt.Errorf("invalid recurring template: %w", err)
	}
	if r.StartDate, err = parseDate(start); err != nil {
		return r, err
	}
	if r.NextRun, err = parseDate(next); err != nil {
		return r, err
	}
	if lastRun.Valid {
		last, err := parseDate(lastRun.String)
		if err != nil {
			return r, err
		}
		r.LastRun = &last
	}
	r.CreatedAt, r.UpdatedAt, err = parseStamps(createdAt, updatedAt)
	return r, err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalJSON(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json: %w", err)
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return nullString(string(b)), nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }
func fmtDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return t, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return t, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// parseStamps parses a row's created_at and updated_at columns.
func parseStamps(created, updated string) (time.Time, time.Time, error) {
	c, err := parseTime(created)
	if err != nil {
		return c, time.Time{}, err
	}
	u, err := parseTime(updated)
	return c, u, err
}

func isUniqueConstraintError(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

var _ ledger.TxStore = (*DB)(nil)
