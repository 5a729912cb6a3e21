// Package memory provides an in-memory ledger.TxStore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bookkeeper/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.TxStore kept in maps. Every call takes the store lock;
// WithTx holds it for the whole unit and restores a snapshot on error.
type Memory struct {
	mu     sync.RWMutex
	data   *data
	faults map[string]error
}

func New() *Memory {
	return &Memory{data: newData(), faults: make(map[string]error)}
}

// InjectFault makes every later call of the named Store method (for
// example "SaveRecurring") fail with err. A nil err clears the fault.
func (m *Memory) InjectFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.unlocked()); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

type accountKey struct {
	book ledger.BookID
	id   ledger.AccountID
}

type txKey struct {
	book ledger.BookID
	id   ledger.TransactionID
}

type idemKey struct {
	book ledger.BookID
	key  string
}

type data struct {
	books        map[ledger.BookID]ledger.Book
	accounts     map[accountKey]ledger.Account
	transactions map[txKey]ledger.Transaction
	idempotency  map[idemKey]ledger.TransactionID
	categories   map[ledger.CategoryID]ledger.Category
	recurring    map[ledger.RecurringID]ledger.RecurringTransaction
	activities   []ledger.AccountActivity
}

func newData() *data {
	return &data{
		books:        make(map[ledger.BookID]ledger.Book),
		accounts:     make(map[accountKey]ledger.Account),
		transactions: make(map[txKey]ledger.Transaction),
		idempotency:  make(map[idemKey]ledger.TransactionID),
		categories:   make(map[ledger.CategoryID]ledger.Category),
		recurring:    make(map[ledger.RecurringID]ledger.RecurringTransaction),
	}
}

// clone copies the maps. Records are values and are copied on every read
// and write, so sharing their inner slices with the snapshot is safe.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.books {
		c.books[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.categories {
		c.categories[k] = v
	}
	for k, v := range d.recurring {
		c.recurring[k] = v
	}
	c.activities = append([]ledger.AccountActivity(nil), d.activities...)
	return c
}

// =============================================================================
// VIEW - Store operations over unlocked data
// =============================================================================

// view implements ledger.Store without locking. Memory takes the lock
// and delegates here; WithTx hands a view to fn directly.
type view struct {
	data   *data
	faults map[string]error
}

func (v *view) fault(op string) error {
	return v.faults[op]
}

// Books

func (v *view) SaveBook(_ context.Context, b ledger.Book) error {
	if err := v.fault("SaveBook"); err != nil {
		return err
	}
	b.Settings = copySettings(b.Settings)
	v.data.books[b.ID] = b
	return nil
}

func (v *view) GetBook(_ context.Context, id ledger.BookID) (ledger.Book, error) {
	if err := v.fault("GetBook"); err != nil {
		return ledger.Book{}, err
	}
	b, ok := v.data.books[id]
	if !ok {
		return ledger.Book{}, ledger.NotFound("book", id)
	}
	b.Settings = copySettings(b.Settings)
	return b, nil
}

func (v *view) ListBooks(_ context.Context, ownerID string) ([]ledger.Book, error) {
	if err := v.fault("ListBooks"); err != nil {
		return nil, err
	}
	var out []ledger.Book
	for _, b := range v.data.books {
		if ownerID == "" || b.OwnerID == ownerID {
			b.Settings = copySettings(b.Settings)
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) DeleteBook(_ context.Context, id ledger.BookID) error {
	if err := v.fault("DeleteBook"); err != nil {
		return err
	}
	if _, ok := v.data.books[id]; !ok {
		return ledger.NotFound("book", id)
	}
	delete(v.data.books, id)
	for k := range v.data.accounts {
		if k.book == id {
			delete(v.data.accounts, k)
		}
	}
	for k := range v.data.transactions {
		if k.book == id {
			delete(v.data.transactions, k)
		}
	}
	for k := range v.data.idempotency {
		if k.book == id {
			delete(v.data.idempotency, k)
		}
	}
	for k, c := range v.data.categories {
		if c.BookID == id {
			delete(v.data.categories, k)
		}
	}
	for k, r := range v.data.recurring {
		if r.BookID == id {
			delete(v.data.recurring, k)
		}
	}
	kept := v.data.activities[:0:0]
	for _, a := range v.data.activities {
		if a.BookID != id {
			kept = append(kept, a)
		}
	}
	v.data.activities = kept
	return nil
}

// Accounts

func (v *view) InsertAccount(_ context.Context, a ledger.Account) error {
	if err := v.fault("InsertAccount"); err != nil {
		return err
	}
	if _, ok := v.data.books[a.BookID]; !ok {
		return ledger.NotFound("book", a.BookID)
	}
	v.data.accounts[accountKey{a.BookID, a.ID}] = a
	return nil
}

func (v *view) UpdateAccount(_ context.Context, a ledger.Account) error {
	if err := v.fault("UpdateAccount"); err != nil {
		return err
	}
	k := accountKey{a.BookID, a.ID}
	cur, ok := v.data.accounts[k]
	if !ok {
		return ledger.NotFound("account", a.ID)
	}
	a.Balance, a.Adjustment = cur.Balance, cur.Adjustment
	v.data.accounts[k] = a
	return nil
}

func (v *view) GetAccount(_ context.Context, bookID ledger.BookID, id ledger.AccountID) (ledger.Account, error) {
	if err := v.fault("GetAccount"); err != nil {
		return ledger.Account{}, err
	}
	a, ok := v.data.accounts[accountKey{bookID, id}]
	if !ok {
		return ledger.Account{}, ledger.NotFound("account", id)
	}
	return a, nil
}

func (v *view) ListAccounts(_ context.Context, bookID ledger.BookID) ([]ledger.Account, error) {
	if err := v.fault("ListAccounts"); err != nil {
		return nil, err
	}
	var out []ledger.Account
	for k, a := range v.data.accounts {
		if k.book == bookID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) DeleteAccount(_ context.Context, bookID ledger.BookID, id ledger.AccountID) error {
	if err := v.fault("DeleteAccount"); err != nil {
		return err
	}
	k := accountKey{bookID, id}
	if _, ok := v.data.accounts[k]; !ok {
		return ledger.NotFound("account", id)
	}
	delete(v.data.accounts, k)
	return nil
}

func (v *view) AdjustBalances(_ context.Context, bookID ledger.BookID, deltas ledger.Deltas) error {
	if err := v.fault("AdjustBalances"); err != nil {
		return err
	}
	ids := deltas.Accounts()
	for _, id := range ids {
		if _, ok := v.data.accounts[accountKey{bookID, id}]; !ok {
			return ledger.NotFound("account", id)
		}
	}
	for _, id := range ids {
		k := accountKey{bookID, id}
		a := v.data.accounts[k]
		a.Balance = a.Balance.Add(deltas[id])
		v.data.accounts[k] = a
	}
	return nil
}

func (v *view) ShiftAdjustment(_ context.Context, bookID ledger.BookID, id ledger.AccountID, delta decimal.Decimal) error {
	if err := v.fault("ShiftAdjustment"); err != nil {
		return err
	}
	k := accountKey{bookID, id}
	a, ok := v.data.accounts[k]
	if !ok {
		return ledger.NotFound("account", id)
	}
	a.Balance = a.Balance.Add(delta)
	a.Adjustment = a.Adjustment.Add(delta)
	v.data.accounts[k] = a
	return nil
}

// Transactions

func (v *view) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	if err := v.fault("InsertTransaction"); err != nil {
		return err
	}
	if _, ok := v.data.books[tx.BookID]; !ok {
		return ledger.NotFound("book", tx.BookID)
	}
	if tx.IdempotencyKey != "" {
		if _, dup := v.data.idempotency[idemKey{tx.BookID, tx.IdempotencyKey}]; dup {
			return ledger.ErrDuplicateIdempotencyKey
		}
		v.data.idempotency[idemKey{tx.BookID, tx.IdempotencyKey}] = tx.ID
	}
	v.data.transactions[txKey{tx.BookID, tx.ID}] = copyTransaction(tx)
	return nil
}

func (v *view) ReplaceTransaction(_ context.Context, tx ledger.Transaction) error {
	if err := v.fault("ReplaceTransaction"); err != nil {
		return err
	}
	k := txKey{tx.BookID, tx.ID}
	old, ok := v.data.transactions[k]
	if !ok {
		return ledger.NotFound("transaction", tx.ID)
	}
	if tx.IdempotencyKey != old.IdempotencyKey {
		if owner, dup := v.data.idempotency[idemKey{tx.BookID, tx.IdempotencyKey}]; dup && owner != tx.ID {
			return ledger.ErrDuplicateIdempotencyKey
		}
		delete(v.data.idempotency, idemKey{tx.BookID, old.IdempotencyKey})
		if tx.IdempotencyKey != "" {
			v.data.idempotency[idemKey{tx.BookID, tx.IdempotencyKey}] = tx.ID
		}
	}
	v.data.transactions[k] = copyTransaction(tx)
	return nil
}

func (v *view) GetTransaction(_ context.Context, bookID ledger.BookID, id ledger.TransactionID) (ledger.Transaction, error) {
	if err := v.fault("GetTransaction"); err != nil {
		return ledger.Transaction{}, err
	}
	tx, ok := v.data.transactions[txKey{bookID, id}]
	if !ok {
		return ledger.Transaction{}, ledger.NotFound("transaction", id)
	}
	return copyTransaction(tx), nil
}

func (v *view) ListTransactions(_ context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	if err := v.fault("ListTransactions"); err != nil {
		return nil, err
	}
	var out []ledger.Transaction
	for k, tx := range v.data.transactions {
		if k.book != f.BookID || !matches(tx, f) {
			continue
		}
		out = append(out, copyTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(tx ledger.Transaction, f ledger.TransactionFilter) bool {
	if f.RecurringID != "" && tx.RecurringID != f.RecurringID {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	if f.AccountID == "" {
		return true
	}
	for _, s := range tx.Splits {
		if s.AccountID == f.AccountID {
			return true
		}
	}
	return false
}

func (v *view) DeleteTransaction(_ context.Context, bookID ledger.BookID, id ledger.TransactionID) error {
	if err := v.fault("DeleteTransaction"); err != nil {
		return err
	}
	k := txKey{bookID, id}
	tx, ok := v.data.transactions[k]
	if !ok {
		return ledger.NotFound("transaction", id)
	}
	delete(v.data.transactions, k)
	if tx.IdempotencyKey != "" {
		delete(v.data.idempotency, idemKey{bookID, tx.IdempotencyKey})
	}
	return nil
}

// Categories

func (v *view) SaveCategory(_ context.Context, c ledger.Category) error {
	if err := v.fault("SaveCategory"); err != nil {
		return err
	}
	v.data.categories[c.ID] = c
	return nil
}

func (v *view) ListCategories(_ context.Context, bookID ledger.BookID) ([]ledger.Category, error) {
	if err := v.fault("ListCategories"); err != nil {
		return nil, err
	}
	var out []ledger.Category
	for _, c := range v.data.categories {
		if c.BookID == bookID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *view) DeleteCategory(_ context.Context, bookID ledger.BookID, id ledger.CategoryID) error {
	if err := v.fault("DeleteCategory"); err != nil {
		return err
	}
	c, ok := v.data.categories[id]
	if !ok || c.BookID != bookID {
		return ledger.NotFound("category", id)
	}
	delete(v.data.categories, id)
	return nil
}

// Recurring

func (v *view) SaveRecurring(_ context.Context, r ledger.RecurringTransaction) error {
	if err := v.fault("SaveRecurring"); err != nil {
		return err
	}
	v.data.recurring[r.ID] = copyRecurring(r)
	return nil
}

func (v *view) GetRecurring(_ context.Context, bookID ledger.BookID, id ledger.RecurringID) (ledger.RecurringTransaction, error) {
	if err := v.fault("GetRecurring"); err != nil {
		return ledger.RecurringTransaction{}, err
	}
	r, ok := v.data.recurring[id]
	if !ok || r.BookID != bookID {
		return ledger.RecurringTransaction{}, ledger.NotFound("recurring", id)
	}
	return copyRecurring(r), nil
}

func (v *view) ListRecurring(_ context.Context, bookID ledger.BookID) ([]ledger.RecurringTransaction, error) {
	if err := v.fault("ListRecurring"); err != nil {
		return nil, err
	}
	return v.listRecurring(func(r ledger.RecurringTransaction) bool { return r.BookID == bookID }), nil
}

func (v *view) ListDueRecurring(_ context.Context, bookID ledger.BookID, asOf time.Time) ([]ledger.RecurringTransaction, error) {
	if err := v.fault("ListDueRecurring"); err != nil {
		return nil, err
	}
	return v.listRecurring(func(r ledger.RecurringTransaction) bool {
		return (bookID == "" || r.BookID == bookID) && r.Active && !r.NextRun.After(asOf)
	}), nil
}

func (v *view) listRecurring(keep func(ledger.RecurringTransaction) bool) []ledger.RecurringTransaction {
	var out []ledger.RecurringTransaction
	for _, r := range v.data.recurring {
		if keep(r) {
			out = append(out, copyRecurring(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *view) DeleteRecurring(_ context.Context, bookID ledger.BookID, id ledger.RecurringID) error {
	if err := v.fault("DeleteRecurring"); err != nil {
		return err
	}
	r, ok := v.data.recurring[id]
	if !ok || r.BookID != bookID {
		return ledger.NotFound("recurring", id)
	}
	delete(v.data.recurring, id)
	return nil
}

// Activity

func (v *view) AppendActivity(_ context.Context, a ledger.AccountActivity) error {
	if err := v.fault("AppendActivity"); err != nil {
		return err
	}
	v.data.activities = append(v.data.activities, a)
	return nil
}

func (v *view) ListActivities(_ context.Context, bookID ledger.BookID, accountID ledger.AccountID) ([]ledger.AccountActivity, error) {
	if err := v.fault("ListActivities"); err != nil {
		return nil, err
	}
	var out []ledger.AccountActivity
	for _, a := range v.data.activities {
		if a.BookID == bookID && (accountID == "" || a.AccountID == accountID) {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (m *Memory) unlocked() *view { return &view{data: m.data, faults: m.faults} }

func (m *Memory) SaveBook(ctx context.Context, b ledger.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveBook(ctx, b)
}

func (m *Memory) GetBook(ctx context.Context, id ledger.BookID) (ledger.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetBook(ctx, id)
}

func (m *Memory) ListBooks(ctx context.Context, ownerID string) ([]ledger.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListBooks(ctx, ownerID)
}

func (m *Memory) DeleteBook(ctx context.Context, id ledger.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteBook(ctx, id)
}

func (m *Memory) InsertAccount(ctx context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().InsertAccount(ctx, a)
}

func (m *Memory) UpdateAccount(ctx context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().UpdateAccount(ctx, a)
}

func (m *Memory) GetAccount(ctx context.Context, bookID ledger.BookID, id ledger.AccountID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetAccount(ctx, bookID, id)
}

func (m *Memory) ListAccounts(ctx context.Context, bookID ledger.BookID) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListAccounts(ctx, bookID)
}

func (m *Memory) DeleteAccount(ctx context.Context, bookID ledger.BookID, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteAccount(ctx, bookID, id)
}

func (m *Memory) AdjustBalances(ctx context.Context, bookID ledger.BookID, deltas ledger.Deltas) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().AdjustBalances(ctx, bookID, deltas)
}

func (m *Memory) ShiftAdjustment(ctx context.Context, bookID ledger.BookID, id ledger.AccountID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().ShiftAdjustment(ctx, bookID, id, delta)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().InsertTransaction(ctx, tx)
}

func (m *Memory) ReplaceTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().ReplaceTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, bookID ledger.BookID, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetTransaction(ctx, bookID, id)
}

func (m *Memory) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListTransactions(ctx, f)
}

func (m *Memory) DeleteTransaction(ctx context.Context, bookID ledger.BookID, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteTransaction(ctx, bookID, id)
}

func (m *Memory) SaveCategory(ctx context.Context, c ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveCategory(ctx, c)
}

func (m *Memory) ListCategories(ctx context.Context, bookID ledger.BookID) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListCategories(ctx, bookID)
}

func (m *Memory) DeleteCategory(ctx context.Context, bookID ledger.BookID, id ledger.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteCategory(ctx, bookID, id)
}

func (m *Memory) SaveRecurring(ctx context.Context, r ledger.RecurringTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().SaveRecurring(ctx, r)
}

func (m *Memory) GetRecurring(ctx context.Context, bookID ledger.BookID, id ledger.RecurringID) (ledger.RecurringTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().GetRecurring(ctx, bookID, id)
}

func (m *Memory) ListRecurring(ctx context.Context, bookID ledger.BookID) ([]ledger.RecurringTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListRecurring(ctx, bookID)
}

func (m *Memory) ListDueRecurring(ctx context.Context, bookID ledger.BookID, asOf time.Time) ([]ledger.RecurringTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListDueRecurring(ctx, bookID, asOf)
}

func (m *Memory) DeleteRecurring(ctx context.Context, bookID ledger.BookID, id ledger.RecurringID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().DeleteRecurring(ctx, bookID, id)
}

func (m *Memory) AppendActivity(ctx context.Context, a ledger.AccountActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked().AppendActivity(ctx, a)
}

func (m *Memory) ListActivities(ctx context.Context, bookID ledger.BookID, accountID ledger.AccountID) ([]ledger.AccountActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked().ListActivities(ctx, bookID, accountID)
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func copyTransaction(tx ledger.Transaction) ledger.Transaction {
	tx.Splits = append([]ledger.Split(nil), tx.Splits...)
	tx.Tags = append([]string(nil), tx.Tags...)
	return tx
}

func copyRecurring(r ledger.RecurringTransaction) ledger.RecurringTransaction {
	r.Template.Tags = append([]string(nil), r.Template.Tags...)
	r.Template.Entries = append([]ledger.Entry(nil), r.Template.Entries...)
	if r.LastRun != nil {
		last := *r.LastRun
		r.LastRun = &last
	}
	return r
}

func copySettings(s map[string]string) map[string]string {
	if s == nil {
		return nil
	}
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

var _ ledger.TxStore = (*Memory)(nil)
