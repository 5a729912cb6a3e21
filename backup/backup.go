/*
Package backup exports books to a versioned JSON document and restores them.

PURPOSE:
  A Document is a complete, self-describing copy of every book of an owner:
  accounts, categories, transactions with their splits, and recurring
  schedules with their cursors.

RESTORE:
  Restore never writes rows directly. Every record is replayed through the
  normal creation paths, so the restored books satisfy the same invariants
  as books built by hand:
  1. Books are created for the new owner
  2. Accounts are recreated parents-first, opening balance = Adjustment
  3. Categories and schedules are recreated, ids remapped
  4. Transactions are replayed as balanced splits
  5. Restored balances are compared to the exported ones

VERSIONING:
  Version 1 is the only format. Unknown versions are rejected.
*/
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/bookkeeper/factory"
	"github.com/warp/bookkeeper/ledger"
)

// Version is the document format written by Export.
const Version = 1

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the exported state of an owner's books.
type Document struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	OwnerID    string    `json:"owner_id"`
	Books      []BookDoc `json:"books"`
}

// BookDoc is one exported book.
type BookDoc struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Currency     string            `json:"currency"`
	IsDefault    bool              `json:"is_default"`
	Settings     map[string]string `json:"settings,omitempty"`
	Accounts     []AccountDoc      `json:"accounts"`
	Categories   []CategoryDoc     `json:"categories"`
	Transactions []TransactionDoc  `json:"transactions"`
	Recurring    []RecurringDoc    `json:"recurring"`
}

// AccountDoc is one exported account.
type AccountDoc struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Color      string          `json:"color,omitempty"`
	Icon       string          `json:"icon,omitempty"`
}

// CategoryDoc is one exported category.
type CategoryDoc struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// TransactionDoc is one exported transaction in split form.
type TransactionDoc struct {
	ID          string `json:"id"`
	RecurringID string `json:"recurring_id,omitempty"`
	factory.IntentJSON
}

// RecurringDoc is one exported schedule.
type RecurringDoc struct {
	ID        string               `json:"id"`
	Frequency string               `json:"frequency"`
	Interval  int                  `json:"interval"`
	StartDate string               `json:"start_date"`
	NextRun   string               `json:"next_run"`
	LastRun   string               `json:"last_run,omitempty"`
	Active    bool                 `json:"active"`
	Template  factory.TemplateJSON `json:"template"`
}

// Write encodes the document as indented JSON.
func (d Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Read decodes a document and checks its version.
func Read(r io.Reader) (Document, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return d, &ledger.ValidationError{Field: "document", Reason: fmt.Sprintf("failed to parse backup: %v", err)}
	}
	if d.Version != Version {
		return d, &ledger.ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported backup version %d", d.Version)}
	}
	return d, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// Export reads every book of ownerID. An empty owner exports all books.
func Export(ctx context.Context, s ledger.Store, ownerID string, now time.Time) (Document, error) {
	doc := Document{Version: Version, ExportedAt: now.UTC(), OwnerID: ownerID}
	books, err := s.ListBooks(ctx, ownerID)
	if err != nil {
		return doc, fmt.Errorf("failed to list books: %w", err)
	}
	for _, b := range books {
		bd, err := exportBook(ctx, s, b)
		if err != nil {
			return doc, fmt.Errorf("failed to export book %s: %w", b.ID, err)
		}
		doc.Books = append(doc.Books, bd)
	}
	return doc, nil
}

func exportBook(ctx context.Context, s ledger.Store, b ledger.Book) (BookDoc, error) {
	bd := BookDoc{ID: string(b.ID), Name: b.Name, Currency: b.Currency, IsDefault: b.IsDefault, Settings: b.Settings}

	accounts, err := s.ListAccounts(ctx, b.ID)
	if err != nil {
		return bd, err
	}
	for _, a := range accounts {
		bd.Accounts = append(bd.Accounts, AccountDoc{
			ID: string(a.ID), ParentID: string(a.ParentID), Name: a.Name, Type: string(a.Type),
			Currency: a.Currency, Balance: a.Balance, Adjustment: a.Adjustment, Color: a.Color, Icon: a.Icon,
		})
	}

	categories, err := s.ListCategories(ctx, b.ID)
	if err != nil {
		return bd, err
	}
	for _, c := range categories {
		bd.Categories = append(bd.Categories, CategoryDoc{ID: string(c.ID), Name: c.Name, Kind: string(c.Kind), Color: c.Color, Icon: c.Icon})
	}

	txs, err := s.ListTransactions(ctx, ledger.TransactionFilter{BookID: b.ID})
	if err != nil {
		return bd, err
	}
	for _, tx := range txs {
		bd.Transactions = append(bd.Transactions, TransactionDoc{
			ID:          string(tx.ID),
			RecurringID: string(tx.RecurringID),
			IntentJSON:  factory.FromTransaction(tx),
		})
	}

	schedules, err := s.ListRecurring(ctx, b.ID)
	if err != nil {
		return bd, err
	}
	for _, r := range schedules {
		rd := RecurringDoc{
			ID:        string(r.ID),
			Frequency: string(r.Frequency),
			Interval:  r.Interval,
			StartDate: ledger.DateString(r.StartDate),
			NextRun:   ledger.DateString(r.NextRun),
			Active:    r.Active,
			Template:  factory.TemplateToJSON(r.Template),
		}
		if r.LastRun != nil {
			rd.LastRun = ledger.DateString(*r.LastRun)
		}
		bd.Recurring = append(bd.Recurring, rd)
	}
	return bd, nil
}

// =============================================================================
// RESTORE
// =============================================================================

// Report summarizes a restore.
type Report struct {
	Books        []ledger.BookID `json:"books"`
	Accounts     int             `json:"accounts"`
	Categories   int             `json:"categories"`
	Transactions int             `json:"transactions"`
	Recurring    int             `json:"recurring"`
	Skipped      []string        `json:"skipped,omitempty"`
}

// Restorer replays documents through the ledger services.
type Restorer struct {
	Ledger    *ledger.Ledger
	Books     *ledger.Books
	Scheduler *ledger.Scheduler
	Logger    *zap.Logger
}

// NewRestorer wires a Restorer to one ledger.
func NewRestorer(l *ledger.Ledger) *Restorer {
	return &Restorer{
		Ledger:    l,
		Books:     ledger.NewBooks(l),
		Scheduler: ledger.NewScheduler(l),
		Logger:    l.Logger,
	}
}

// Restore recreates every book of doc for newOwner. Records that can no
// longer be recreated (for example a schedule whose account is gone) are
// skipped and listed in the report. A balance mismatch after replay is an
// error. On any error the books created so far are removed and newOwner's
// existing books are left as they were.
func (r *Restorer) Restore(ctx context.Context, doc Document, newOwner string) (Report, error) {
	var report Report
	if doc.Version != Version {
		return report, &ledger.ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported backup version %d", doc.Version)}
	}
	if newOwner == "" {
		newOwner = doc.OwnerID
	}
	before, err := r.Ledger.Store.ListBooks(ctx, newOwner)
	if err != nil {
		return report, fmt.Errorf("failed to list books: %w", err)
	}
	for _, bd := range doc.Books {
		id, err := r.restoreBook(ctx, bd, newOwner, &report)
		if id != "" {
			report.Books = append(report.Books, id)
		}
		if err != nil {
			err = fmt.Errorf("failed to restore book %q: %w", bd.Name, err)
			if rbErr := r.rollback(ctx, before, report.Books); rbErr != nil {
				return Report{}, errors.Join(err, rbErr)
			}
			return Report{}, err
		}
	}
	r.Logger.Info("backup restored",
		zap.String("owner", newOwner),
		zap.Int("books", len(report.Books)),
		zap.Int("transactions", report.Transactions),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func (r *Restorer) restoreBook(ctx context.Context, bd BookDoc, owner string, report *Report) (ledger.BookID, error) {
	book, err := r.Books.Create(ctx, ledger.BookInput{OwnerID: owner, Name: bd.Name, Currency: bd.Currency, Settings: bd.Settings})
	if err != nil {
		return "", err
	}
	if bd.IsDefault && !book.IsDefault {
		if _, err = r.Books.SetDefault(ctx, book.ID); err != nil {
			return book.ID, err
		}
	}

	accounts, err := r.restoreAccounts(ctx, book.ID, bd.Accounts, report)
	if err != nil {
		return book.ID, err
	}

	categories := make(map[string]ledger.CategoryID, len(bd.Categories))
	for _, cd := range bd.Categories {
		c, err := r.Books.CreateCategory(ctx, book.ID, ledger.Category{Name: cd.Name, Kind: ledger.Kind(cd.Kind), Color: cd.Color, Icon: cd.Icon})
		if err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("category %s: %v", cd.ID, err))
			continue
		}
		categories[cd.ID] = c.ID
		report.Categories++
	}

	schedules := make(map[string]ledger.RecurringID, len(bd.Recurring))
	for _, rd := range bd.Recurring {
		id, err := r.restoreRecurring(ctx, book.ID, rd, accounts, categories)
		if err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("recurring %s: %v", rd.ID, err))
			continue
		}
		schedules[rd.ID] = id
		report.Recurring++
	}

	for _, td := range bd.Transactions {
		ij := td.IntentJSON
		ij.CategoryID = string(categories[ij.CategoryID])
		ij.Entries = append([]factory.EntryJSON(nil), ij.Entries...)
		for i := range ij.Entries {
			ij.Entries[i].AccountID = string(accounts[ij.Entries[i].AccountID])
		}
		rid := schedules[td.RecurringID]
		if rid != "" && ij.IdempotencyKey != "" {
			date, err := ledger.ParseDate(ij.Date)
			if err != nil {
				return book.ID, err
			}
			ij.IdempotencyKey = ledger.OccurrenceKey(rid, date)
		}
		intent, err := ij.Intent()
		if err != nil {
			return book.ID, fmt.Errorf("transaction %s: %w", td.ID, err)
		}
		if _, err := r.Ledger.CreateOccurrence(ctx, book.ID, rid, intent); err != nil {
			return book.ID, fmt.Errorf("transaction %s: %w", td.ID, err)
		}
		report.Transactions++
	}

	return book.ID, r.verify(ctx, book.ID, bd.Accounts, accounts)
}

// rollback removes the books created by a failed restore and puts the
// owner's previous books back as they were, default flag included.
func (r *Restorer) rollback(ctx context.Context, before []ledger.Book, created []ledger.BookID) error {
	err := r.Ledger.Store.WithTx(ctx, func(s ledger.Store) error {
		for _, id := range created {
			if err := s.DeleteBook(ctx, id); err != nil && !ledger.IsNotFound(err) {
				return err
			}
		}
		for _, b := range before {
			if err := s.SaveBook(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to roll back restore: %w", err)
	}
	r.Logger.Warn("restore rolled back", zap.Int("books", len(created)))
	return nil
}

// restoreAccounts creates parents before children and returns the id map.
func (r *Restorer) restoreAccounts(ctx context.Context, bookID ledger.BookID, docs []AccountDoc, report *Report) (map[string]ledger.AccountID, error) {
	ids := make(map[string]ledger.AccountID, len(docs))
	pending := docs
	for len(pending) > 0 {
		var next []AccountDoc
		for _, ad := range pending {
			parent, ok := ids[ad.ParentID]
			if ad.ParentID != "" && !ok {
				next = append(next, ad)
				continue
			}
			a, err := r.Ledger.CreateAccount(ctx, bookID, ledger.AccountInput{
				ParentID:       parent,
				Name:           ad.Name,
				Type:           ledger.AccountType(ad.Type),
				Currency:       ad.Currency,
				OpeningBalance: ad.Adjustment,
				Color:          ad.Color,
				Icon:           ad.Icon,
			})
			if err != nil {
				return ids, fmt.Errorf("account %s: %w", ad.ID, err)
			}
			ids[ad.ID] = a.ID
			report.Accounts++
		}
		if len(next) == len(pending) {
			return ids, &ledger.ValidationError{Field: "accounts", Reason: fmt.Sprintf("%d accounts reference missing parents", len(next))}
		}
		pending = next
	}
	return ids, nil
}

func (r *Restorer) restoreRecurring(ctx context.Context, bookID ledger.BookID, rd RecurringDoc, accounts map[string]ledger.AccountID, categories map[string]ledger.CategoryID) (ledger.RecurringID, error) {
	tj := rd.Template
	tj.FromAccountID = string(accounts[tj.FromAccountID])
	tj.ToAccountID = string(accounts[tj.ToAccountID])
	tj.CategoryID = string(categories[tj.CategoryID])
	tj.Entries = append([]factory.EntryJSON(nil), tj.Entries...)
	for i := range tj.Entries {
		tj.Entries[i].AccountID = string(accounts[tj.Entries[i].AccountID])
	}
	in, err := factory.RecurringJSON{
		Frequency: rd.Frequency,
		Interval:  rd.Interval,
		StartDate: rd.StartDate,
		Paused:    !rd.Active,
		Template:  tj,
	}.Input()
	if err != nil {
		return "", err
	}
	created, err := r.Scheduler.Create(ctx, bookID, in)
	if err != nil {
		return "", err
	}

	next, err := ledger.ParseDate(rd.NextRun)
	if err != nil {
		return created.ID, err
	}
	var last *time.Time
	if rd.LastRun != "" {
		t, err := ledger.ParseDate(rd.LastRun)
		if err != nil {
			return created.ID, err
		}
		last = &t
	}
	// The cursor is restored as exported so past occurrences never re-fire.
	err = r.Ledger.Store.WithTx(ctx, func(s ledger.Store) error {
		cur, err := s.GetRecurring(ctx, bookID, created.ID)
		if err != nil {
			return err
		}
		cur.NextRun, cur.LastRun = next, last
		return s.SaveRecurring(ctx, cur)
	})
	return created.ID, err
}

// verify compares restored balances with the exported ones.
func (r *Restorer) verify(ctx context.Context, bookID ledger.BookID, docs []AccountDoc, ids map[string]ledger.AccountID) error {
	for _, ad := range docs {
		a, err := r.Ledger.GetAccount(ctx, bookID, ids[ad.ID])
		if err != nil {
			return err
		}
		if !a.Balance.Equal(ad.Balance) {
			return fmt.Errorf("account %q restored with balance %s, exported %s", ad.Name, a.Balance, ad.Balance)
		}
	}
	return nil
}
