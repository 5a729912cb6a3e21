/*
ledger.go - Atomic create/update/delete of transactions

PURPOSE:
  The Ledger is the only writer of transactions and account balances.
  Every public mutation is one TxStore.WithTx unit: the transaction header,
  its splits and the resulting balance deltas commit together or not at all.

OPERATIONS:
  CreateSimple:  TransferIntent or LegacyIntent -> two splits
  CreateSplit:   Arbitrary balanced entries
  Update:        Reverse(old) + Apply(new), collapsed into one delta per account
  Delete:        Reverse(existing), then remove header and splits
  DeleteAccount: Deletes (and reverses) every transaction touching the account

VALIDATION ORDER:
  Intents are normalized into splits before the first write of the unit.
  A rejected intent therefore leaves no trace, and a failed commit leaves
  prior state untouched.

EXAMPLE FLOW:
  Cash (asset) 500, Groceries (expense) 0
  CreateSimple Cash -> Groceries 120:  Cash 380, Groceries 120
  Delete:                              Cash 500, Groceries 0

SEE ALSO:
  - entries.go: Normalize
  - projection.go: Apply/Reverse
  - store.go: TxStore
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the transaction service of the double-entry core.
type Ledger struct {
	Store  TxStore
	Logger *zap.Logger
	Now    func() time.Time
}

// New creates a Ledger. A nil logger disables logging.
func New(store TxStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{Store: store, Logger: logger, Now: time.Now}
}

func (l *Ledger) now() time.Time { return l.Now().UTC() }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateSimple records a two-account movement.
func (l *Ledger) CreateSimple(ctx context.Context, bookID BookID, intent Intent) (Transaction, error) {
	if _, ok := intent.(SplitIntent); ok {
		return Transaction{}, invalid("intent", "use CreateSplit for multi-way splits")
	}
	return l.Create(ctx, bookID, intent)
}

// CreateSplit records an arbitrary multi-way split.
func (l *Ledger) CreateSplit(ctx context.Context, bookID BookID, h Header, entries []Entry) (Transaction, error) {
	return l.Create(ctx, bookID, SplitIntent{Header: h, Entries: entries})
}

// Create records any intent.
func (l *Ledger) Create(ctx context.Context, bookID BookID, intent Intent) (Transaction, error) {
	return l.CreateOccurrence(ctx, bookID, "", intent)
}

// CreateOccurrence records an intent linked to a recurring schedule, as
// restores do. An empty recurringID records a plain transaction.
func (l *Ledger) CreateOccurrence(ctx context.Context, bookID BookID, recurringID RecurringID, intent Intent) (Transaction, error) {
	var created Transaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		if recurringID != "" {
			if _, err := s.GetRecurring(ctx, bookID, recurringID); err != nil {
				return err
			}
		}
		tx, err := l.createIn(ctx, s, bookID, intent, recurringID)
		created = tx
		return err
	})
	if err != nil {
		return Transaction{}, persistence("create transaction", err)
	}
	l.Logger.Info("transaction created",
		zap.String("book", string(bookID)),
		zap.String("transaction", string(created.ID)),
		zap.Int("splits", len(created.Splits)),
	)
	return created, nil
}

// createIn validates, builds and writes a transaction inside an open unit.
func (l *Ledger) createIn(ctx context.Context, s Store, bookID BookID, intent Intent, recurringID RecurringID) (Transaction, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return Transaction{}, err
	}
	tx, err := l.build(ctx, s, book, intent)
	if err != nil {
		return Transaction{}, err
	}
	now := l.now()
	tx.ID = TransactionID(uuid.NewString())
	tx.RecurringID = recurringID
	tx.CreatedAt, tx.UpdatedAt = now, now
	for i := range tx.Splits {
		tx.Splits[i].TransactionID = tx.ID
	}

	if err := s.InsertTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	if err := s.AdjustBalances(ctx, bookID, Apply(tx.Splits).Compact()); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// build turns an intent into a fully validated transaction without writing.
func (l *Ledger) build(ctx context.Context, s Store, book Book, intent Intent) (Transaction, error) {
	if intent == nil {
		return Transaction{}, invalid("intent", "intent is required")
	}
	h := intent.header()
	if h.Description == "" {
		return Transaction{}, invalid("description", "description is required")
	}
	if h.Date.IsZero() {
		return Transaction{}, invalid("date", "date is required")
	}
	currency := h.Currency
	if currency == "" {
		currency = book.Currency
	}
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return Transaction{}, err
	}

	accounts, err := s.ListAccounts(ctx, book.ID)
	if err != nil {
		return Transaction{}, err
	}
	byID := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	resolve := func(id AccountID) (Account, error) {
		a, ok := byID[id]
		if !ok {
			return Account{}, invalid("account", "account %q does not exist in book %s", id, book.ID)
		}
		if a.Currency != currency {
			return Account{}, invalid("currency", "account %q is in %s, transaction is in %s", a.Name, a.Currency, currency)
		}
		return a, nil
	}

	splits, err := Normalize(intent, resolve, AccountPaths(accounts))
	if err != nil {
		return Transaction{}, err
	}
	if len(splits) < 2 || !IsBalanced(splits) {
		return Transaction{}, invalid("splits", "transaction does not balance")
	}

	return Transaction{
		BookID:         book.ID,
		UserID:         h.UserID,
		Description:    h.Description,
		Date:           DateOf(h.Date),
		Currency:       currency,
		Notes:          h.Notes,
		CategoryID:     h.CategoryID,
		Tags:           h.Tags,
		IdempotencyKey: h.IdempotencyKey,
		Splits:         splits,
	}, nil
}

// Update replaces a transaction's header and splits. The old effects are
// reversed and the new ones applied as a single net delta per account.
func (l *Ledger) Update(ctx context.Context, bookID BookID, id TransactionID, intent Intent) (Transaction, error) {
	var updated Transaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		old, err := s.GetTransaction(ctx, bookID, id)
		if err != nil {
			return err
		}
		book, err := s.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		next, err := l.build(ctx, s, book, intent)
		if err != nil {
			return err
		}
		next.ID = old.ID
		next.RecurringID = old.RecurringID
		next.CreatedAt = old.CreatedAt
		next.UpdatedAt = l.now()
		if next.IdempotencyKey == "" {
			next.IdempotencyKey = old.IdempotencyKey
		}
		if next.UserID == "" {
			next.UserID = old.UserID
		}
		for i := range next.Splits {
			next.Splits[i].TransactionID = next.ID
		}

		net := Reverse(old.Splits).Merge(Apply(next.Splits)).Compact()
		if err := s.ReplaceTransaction(ctx, next); err != nil {
			return err
		}
		if err := s.AdjustBalances(ctx, bookID, net); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return Transaction{}, persistence("update transaction", err)
	}
	l.Logger.Info("transaction updated",
		zap.String("book", string(bookID)),
		zap.String("transaction", string(id)),
	)
	return updated, nil
}

// Delete removes a transaction and reverses its balance effects.
func (l *Ledger) Delete(ctx context.Context, bookID BookID, id TransactionID) error {
	err := l.Store.WithTx(ctx, func(s Store) error {
		return deleteIn(ctx, s, bookID, id)
	})
	if err != nil {
		return persistence("delete transaction", err)
	}
	l.Logger.Info("transaction deleted",
		zap.String("book", string(bookID)),
		zap.String("transaction", string(id)),
	)
	return nil
}

func deleteIn(ctx context.Context, s Store, bookID BookID, id TransactionID) error {
	tx, err := s.GetTransaction(ctx, bookID, id)
	if err != nil {
		return err
	}
	if err := s.DeleteTransaction(ctx, bookID, id); err != nil {
		return err
	}
	return s.AdjustBalances(ctx, bookID, Reverse(tx.Splits).Compact())
}

// GetTransaction returns one transaction with its splits.
func (l *Ledger) GetTransaction(ctx context.Context, bookID BookID, id TransactionID) (Transaction, error) {
	return l.Store.GetTransaction(ctx, bookID, id)
}

// ListTransactions returns the transactions matching f, oldest first.
func (l *Ledger) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	if _, err := l.Store.GetBook(ctx, f.BookID); err != nil {
		return nil, err
	}
	return l.Store.ListTransactions(ctx, f)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountInput describes a new account.
type AccountInput struct {
	ParentID       AccountID
	Name           string
	Type           AccountType
	Currency       string // defaults to the book currency
	OpeningBalance decimal.Decimal
	Color          string
	Icon           string
}

// CreateAccount adds an account. A non-zero opening balance is recorded as
// Adjustment and logged as an opening activity.
func (l *Ledger) CreateAccount(ctx context.Context, bookID BookID, in AccountInput) (Account, error) {
	if in.Name == "" {
		return Account{}, invalid("name", "name is required")
	}
	if !in.Type.Valid() {
		return Account{}, invalid("type", "unknown account type %q", in.Type)
	}

	var created Account
	err := l.Store.WithTx(ctx, func(s Store) error {
		book, err := s.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		currency := in.Currency
		if currency == "" {
			currency = book.Currency
		}
		if currency, err = NormalizeCurrency(currency); err != nil {
			return err
		}
		if in.ParentID != "" {
			if _, err := s.GetAccount(ctx, bookID, in.ParentID); err != nil {
				return err
			}
		}

		now := l.now()
		acc := Account{
			ID:         AccountID(uuid.NewString()),
			BookID:     bookID,
			ParentID:   in.ParentID,
			Name:       in.Name,
			Type:       in.Type,
			Currency:   currency,
			Balance:    in.OpeningBalance,
			Adjustment: in.OpeningBalance,
			Color:      in.Color,
			Icon:       in.Icon,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.InsertAccount(ctx, acc); err != nil {
			return err
		}
		if !in.OpeningBalance.IsZero() {
			if err := s.AppendActivity(ctx, AccountActivity{
				ID:        uuid.NewString(),
				BookID:    bookID,
				AccountID: acc.ID,
				Kind:      ActivityOpening,
				OldValue:  "0",
				NewValue:  in.OpeningBalance.String(),
				Delta:     in.OpeningBalance,
				At:        now,
			}); err != nil {
				return err
			}
		}
		created = acc
		return nil
	})
	if err != nil {
		return Account{}, persistence("create account", err)
	}
	return created, nil
}

// AccountPatch lists the editable account fields. Nil fields are unchanged.
type AccountPatch struct {
	Name     *string
	ParentID *AccountID
	Type     *AccountType
	Currency *string
	Color    *string
	Icon     *string
	Balance  *decimal.Decimal
	Note     string
}

// UpdateAccount applies a manual edit. Balance, currency and name changes
// each emit an AccountActivity. A balance edit moves Adjustment by the same
// delta so the balance invariant keeps holding.
func (l *Ledger) UpdateAccount(ctx context.Context, bookID BookID, id AccountID, p AccountPatch) (Account, error) {
	var updated Account
	err := l.Store.WithTx(ctx, func(s Store) error {
		acc, err := s.GetAccount(ctx, bookID, id)
		if err != nil {
			return err
		}
		now := l.now()
		var activities []AccountActivity
		record := func(kind ActivityKind, oldV, newV string, delta decimal.Decimal) {
			activities = append(activities, AccountActivity{
				ID: uuid.NewString(), BookID: bookID, AccountID: id, Kind: kind,
				OldValue: oldV, NewValue: newV, Delta: delta, Note: p.Note, At: now,
			})
		}

		if p.Name != nil && *p.Name != acc.Name {
			if *p.Name == "" {
				return invalid("name", "name is required")
			}
			record(ActivityName, acc.Name, *p.Name, decimal.Zero)
			acc.Name = *p.Name
		}
		if p.Currency != nil {
			cur, err := NormalizeCurrency(*p.Currency)
			if err != nil {
				return err
			}
			if cur != acc.Currency {
				used, err := referenced(ctx, s, bookID, id)
				if err != nil {
					return err
				}
				if used {
					return invalid("currency", "account currency cannot change while transactions reference the account")
				}
				record(ActivityCurrency, acc.Currency, cur, decimal.Zero)
				acc.Currency = cur
			}
		}
		if p.Type != nil && *p.Type != acc.Type {
			if !p.Type.Valid() {
				return invalid("type", "unknown account type %q", *p.Type)
			}
			used, err := referenced(ctx, s, bookID, id)
			if err != nil {
				return err
			}
			if used {
				return invalid("type", "account type cannot change while transactions reference the account")
			}
			acc.Type = *p.Type
		}
		if p.ParentID != nil {
			if *p.ParentID == id {
				return invalid("parent", "an account cannot be its own parent")
			}
			if *p.ParentID != "" {
				if err := checkAncestry(ctx, s, bookID, id, *p.ParentID); err != nil {
					return err
				}
			}
			acc.ParentID = *p.ParentID
		}
		if p.Color != nil {
			acc.Color = *p.Color
		}
		if p.Icon != nil {
			acc.Icon = *p.Icon
		}
		acc.UpdatedAt = now
		if err := s.UpdateAccount(ctx, acc); err != nil {
			return err
		}

		if p.Balance != nil && !p.Balance.Equal(acc.Balance) {
			delta := p.Balance.Sub(acc.Balance)
			if err := s.ShiftAdjustment(ctx, bookID, id, delta); err != nil {
				return err
			}
			record(ActivityBalance, acc.Balance.String(), p.Balance.String(), delta)
		}
		for _, a := range activities {
			if err := s.AppendActivity(ctx, a); err != nil {
				return err
			}
		}

		updated, err = s.GetAccount(ctx, bookID, id)
		return err
	})
	if err != nil {
		return Account{}, persistence("update account", err)
	}
	return updated, nil
}

func referenced(ctx context.Context, s Store, bookID BookID, id AccountID) (bool, error) {
	used, err := s.ListTransactions(ctx, TransactionFilter{BookID: bookID, AccountID: id, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(used) > 0, nil
}

// checkAncestry walks up from parent and rejects a chain that reaches id.
func checkAncestry(ctx context.Context, s Store, bookID BookID, id, parent AccountID) error {
	seen := make(map[AccountID]bool)
	for cur := parent; cur != ""; {
		if cur == id {
			return invalid("parent", "account %s cannot be nested under its own descendant", id)
		}
		if seen[cur] {
			return invalid("parent", "account hierarchy already contains a cycle at %s", cur)
		}
		seen[cur] = true
		a, err := s.GetAccount(ctx, bookID, cur)
		if err != nil {
			return err
		}
		cur = a.ParentID
	}
	return nil
}

// DeleteAccount removes an account together with every transaction that
// references it. The deleted transactions' effects on the remaining
// accounts are reversed, and schedules using the account are paused, all
// in one atomic unit.
func (l *Ledger) DeleteAccount(ctx context.Context, bookID BookID, id AccountID) error {
	var removed int
	err := l.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetAccount(ctx, bookID, id); err != nil {
			return err
		}
		accounts, err := s.ListAccounts(ctx, bookID)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			if a.ParentID == id {
				return invalid("account", "account %q has sub-accounts", a.Name)
			}
		}

		txs, err := s.ListTransactions(ctx, TransactionFilter{BookID: bookID, AccountID: id})
		if err != nil {
			return err
		}
		deltas := Deltas{}
		for _, tx := range txs {
			if err := s.DeleteTransaction(ctx, bookID, tx.ID); err != nil {
				return err
			}
			deltas = deltas.Merge(Reverse(tx.Splits))
		}
		delete(deltas, id)
		if err := s.AdjustBalances(ctx, bookID, deltas.Compact()); err != nil {
			return err
		}

		schedules, err := s.ListRecurring(ctx, bookID)
		if err != nil {
			return err
		}
		for _, r := range schedules {
			if r.Active && templateUses(r.Template, id) {
				r.Active = false
				r.UpdatedAt = l.now()
				if err := s.SaveRecurring(ctx, r); err != nil {
					return err
				}
			}
		}
		removed = len(txs)
		return s.DeleteAccount(ctx, bookID, id)
	})
	if err != nil {
		return persistence("delete account", err)
	}
	l.Logger.Info("account deleted",
		zap.String("book", string(bookID)),
		zap.String("account", string(id)),
		zap.Int("cascaded_transactions", removed),
	)
	return nil
}

// GetAccount returns one account.
func (l *Ledger) GetAccount(ctx context.Context, bookID BookID, id AccountID) (Account, error) {
	return l.Store.GetAccount(ctx, bookID, id)
}

// ListAccounts returns the accounts of a book.
func (l *Ledger) ListAccounts(ctx context.Context, bookID BookID) ([]Account, error) {
	if _, err := l.Store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return l.Store.ListAccounts(ctx, bookID)
}

// ListActivities returns manual-edit audit records. An empty accountID
// returns the whole book.
func (l *Ledger) ListActivities(ctx context.Context, bookID BookID, accountID AccountID) ([]AccountActivity, error) {
	return l.Store.ListActivities(ctx, bookID, accountID)
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Drift reports an account whose stored balance disagrees with its splits.
type Drift struct {
	AccountID AccountID
	Name      string
	Stored    decimal.Decimal
	Expected  decimal.Decimal
}

// VerifyBalances recomputes every balance from Adjustment plus the splits
// of all live transactions and returns the accounts that disagree.
// Transactions that do not balance are reported as an error.
func (l *Ledger) VerifyBalances(ctx context.Context, bookID BookID) ([]Drift, error) {
	accounts, err := l.ListAccounts(ctx, bookID)
	if err != nil {
		return nil, err
	}
	txs, err := l.Store.ListTransactions(ctx, TransactionFilter{BookID: bookID})
	if err != nil {
		return nil, err
	}

	expected := make(map[AccountID]decimal.Decimal, len(accounts))
	types := make(map[AccountID]AccountType, len(accounts))
	for _, a := range accounts {
		expected[a.ID] = a.Adjustment
		types[a.ID] = a.Type
	}
	var unbalanced []error
	for _, tx := range txs {
		if len(tx.Splits) < 2 || !IsBalanced(tx.Splits) {
			unbalanced = append(unbalanced, invalid("transaction", "%s does not balance (sum %s)", tx.ID, SplitSum(tx.Splits)))
		}
		for _, sp := range tx.Splits {
			expected[sp.AccountID] = expected[sp.AccountID].Add(BalanceEffect(types[sp.AccountID], sp.Value))
		}
	}

	var drifts []Drift
	for _, a := range accounts {
		if !a.Balance.Equal(expected[a.ID]) {
			drifts = append(drifts, Drift{AccountID: a.ID, Name: a.Name, Stored: a.Balance, Expected: expected[a.ID]})
		}
	}
	return drifts, errors.Join(unbalanced...)
}
