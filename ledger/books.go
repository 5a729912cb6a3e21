/*
books.go - Book scoping and first-run initialization

PURPOSE:
  A Book is an isolated ledger: its own accounts, categories, transactions
  and schedules. Every Store call takes a BookID, so nothing leaks across
  books.

INVARIANTS:
  1. A user always has at least one book
  2. The only book of a user cannot be deleted
  3. Exactly one book per owner is the default

SEEDING:
  InitializeDefaults adds a starter chart of accounts and categories to an
  existing book. A failing seed item is logged and skipped; a book with
  fewer (or zero) accounts is still valid and user-correctable.
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAccount is one starter account.
type DefaultAccount struct {
	Name  string
	Type  AccountType
	Color string
	Icon  string
}

// DefaultCategory is one starter category.
type DefaultCategory struct {
	Name  string
	Kind  Kind
	Color string
	Icon  string
}

// DefaultAccounts is the starter chart of accounts.
var DefaultAccounts = []DefaultAccount{
	{Name: "Cash", Type: AccountAsset, Color: "#4CAF50", Icon: "wallet"},
	{Name: "Bank Account", Type: AccountAsset, Color: "#2196F3", Icon: "bank"},
	{Name: "Credit Card", Type: AccountLiability, Color: "#F44336", Icon: "credit-card"},
	{Name: "Salary", Type: AccountIncome, Color: "#8BC34A", Icon: "briefcase"},
	{Name: "Other Income", Type: AccountIncome, Color: "#CDDC39", Icon: "gift"},
	{Name: "Groceries", Type: AccountExpense, Color: "#FF9800", Icon: "cart"},
	{Name: "Rent", Type: AccountExpense, Color: "#795548", Icon: "home"},
	{Name: "Utilities", Type: AccountExpense, Color: "#607D8B", Icon: "bolt"},
	{Name: "Transport", Type: AccountExpense, Color: "#3F51B5", Icon: "car"},
	{Name: "Dining", Type: AccountExpense, Color: "#E91E63", Icon: "utensils"},
	{Name: "Entertainment", Type: AccountExpense, Color: "#9C27B0", Icon: "film"},
	{Name: "Healthcare", Type: AccountExpense, Color: "#009688", Icon: "heart"},
}

// DefaultCategories is the starter category list.
var DefaultCategories = []DefaultCategory{
	{Name: "Salary", Kind: KindIncome, Color: "#8BC34A", Icon: "briefcase"},
	{Name: "Freelance", Kind: KindIncome, Color: "#CDDC39", Icon: "laptop"},
	{Name: "Groceries", Kind: KindExpense, Color: "#FF9800", Icon: "cart"},
	{Name: "Housing", Kind: KindExpense, Color: "#795548", Icon: "home"},
	{Name: "Transport", Kind: KindExpense, Color: "#3F51B5", Icon: "car"},
	{Name: "Food & Dining", Kind: KindExpense, Color: "#E91E63", Icon: "utensils"},
	{Name: "Shopping", Kind: KindExpense, Color: "#9C27B0", Icon: "bag"},
	{Name: "Health", Kind: KindExpense, Color: "#009688", Icon: "heart"},
}

// Books manages book lifecycle and book-scoped categories.
type Books struct {
	Ledger     *Ledger
	Accounts   []DefaultAccount
	Categories []DefaultCategory
}

// NewBooks creates a Books service seeding the default chart.
func NewBooks(l *Ledger) *Books {
	return &Books{Ledger: l, Accounts: DefaultAccounts, Categories: DefaultCategories}
}

// BookInput describes a new book.
type BookInput struct {
	OwnerID  string
	Name     string
	Currency string
	Settings map[string]string
	Seed     bool // run InitializeDefaults after creation
}

// SeedReport counts seeded and skipped items.
type SeedReport struct {
	Accounts   int
	Categories int
	Skipped    int
}

// Create adds a book. The first book of an owner becomes the default.
func (b *Books) Create(ctx context.Context, in BookInput) (Book, error) {
	if in.OwnerID == "" {
		return Book{}, invalid("owner", "owner is required")
	}
	if in.Name == "" {
		return Book{}, invalid("name", "name is required")
	}
	currency, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return Book{}, err
	}

	l := b.Ledger
	var book Book
	err = l.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.ListBooks(ctx, in.OwnerID)
		if err != nil {
			return err
		}
		now := l.now()
		book = Book{
			ID:        BookID(uuid.NewString()),
			OwnerID:   in.OwnerID,
			Name:      in.Name,
			Currency:  currency,
			IsDefault: len(existing) == 0,
			Settings:  in.Settings,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.SaveBook(ctx, book)
	})
	if err != nil {
		return Book{}, persistence("create book", err)
	}
	l.Logger.Info("book created",
		zap.String("book", string(book.ID)),
		zap.String("owner", book.OwnerID),
		zap.Bool("default", book.IsDefault),
	)

	if in.Seed {
		if _, err := b.InitializeDefaults(ctx, book.ID); err != nil {
			return book, err
		}
	}
	return book, nil
}

// EnsureDefault returns the owner's default book, creating and seeding a
// first book when the owner has none.
func (b *Books) EnsureDefault(ctx context.Context, ownerID, currency string) (Book, error) {
	books, err := b.Ledger.Store.ListBooks(ctx, ownerID)
	if err != nil {
		return Book{}, persistence("list books", err)
	}
	for _, bk := range books {
		if bk.IsDefault {
			return bk, nil
		}
	}
	if len(books) > 0 {
		return b.SetDefault(ctx, books[0].ID)
	}
	return b.Create(ctx, BookInput{OwnerID: ownerID, Name: "Personal", Currency: currency, Seed: true})
}

// InitializeDefaults seeds the starter accounts and categories. The book
// must already exist. Individual failures are logged and skipped.
func (b *Books) InitializeDefaults(ctx context.Context, bookID BookID) (SeedReport, error) {
	l := b.Ledger
	var report SeedReport
	if _, err := l.Store.GetBook(ctx, bookID); err != nil {
		return report, err
	}

	for _, d := range b.Accounts {
		_, err := l.CreateAccount(ctx, bookID, AccountInput{Name: d.Name, Type: d.Type, Color: d.Color, Icon: d.Icon})
		if err != nil {
			report.Skipped++
			l.Logger.Warn("default account not seeded",
				zap.String("book", string(bookID)),
				zap.String("account", d.Name),
				zap.Error(err),
			)
			continue
		}
		report.Accounts++
	}
	for _, d := range b.Categories {
		_, err := b.CreateCategory(ctx, bookID, Category{Name: d.Name, Kind: d.Kind, Color: d.Color, Icon: d.Icon})
		if err != nil {
			report.Skipped++
			l.Logger.Warn("default category not seeded",
				zap.String("book", string(bookID)),
				zap.String("category", d.Name),
				zap.Error(err),
			)
			continue
		}
		report.Categories++
	}

	l.Logger.Info("book defaults initialized",
		zap.String("book", string(bookID)),
		zap.Int("accounts", report.Accounts),
		zap.Int("categories", report.Categories),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// Get returns one book.
func (b *Books) Get(ctx context.Context, id BookID) (Book, error) {
	return b.Ledger.Store.GetBook(ctx, id)
}

// List returns the books of an owner.
func (b *Books) List(ctx context.Context, ownerID string) ([]Book, error) {
	return b.Ledger.Store.ListBooks(ctx, ownerID)
}

// Rename updates the name and settings of a book.
func (b *Books) Rename(ctx context.Context, id BookID, name string, settings map[string]string) (Book, error) {
	if name == "" {
		return Book{}, invalid("name", "name is required")
	}
	l := b.Ledger
	var out Book
	err := l.Store.WithTx(ctx, func(s Store) error {
		book, err := s.GetBook(ctx, id)
		if err != nil {
			return err
		}
		book.Name = name
		if settings != nil {
			book.Settings = settings
		}
		book.UpdatedAt = l.now()
		out = book
		return s.SaveBook(ctx, book)
	})
	if err != nil {
		return Book{}, persistence("update book", err)
	}
	return out, nil
}

// SetDefault makes id the owner's only default book.
func (b *Books) SetDefault(ctx context.Context, id BookID) (Book, error) {
	l := b.Ledger
	var out Book
	err := l.Store.WithTx(ctx, func(s Store) error {
		book, err := s.GetBook(ctx, id)
		if err != nil {
			return err
		}
		books, err := s.ListBooks(ctx, book.OwnerID)
		if err != nil {
			return err
		}
		now := l.now()
		for _, other := range books {
			want := other.ID == id
			if other.IsDefault == want {
				continue
			}
			other.IsDefault = want
			other.UpdatedAt = now
			if err := s.SaveBook(ctx, other); err != nil {
				return err
			}
		}
		book.IsDefault = true
		out = book
		return nil
	})
	if err != nil {
		return Book{}, persistence("set default book", err)
	}
	return out, nil
}

// Delete removes a book and everything scoped to it. The only book of an
// owner cannot be deleted; deleting the default promotes another book.
func (b *Books) Delete(ctx context.Context, id BookID) error {
	l := b.Ledger
	err := l.Store.WithTx(ctx, func(s Store) error {
		book, err := s.GetBook(ctx, id)
		if err != nil {
			return err
		}
		books, err := s.ListBooks(ctx, book.OwnerID)
		if err != nil {
			return err
		}
		if len(books) <= 1 {
			return ErrLastBook
		}
		if err := s.DeleteBook(ctx, id); err != nil {
			return err
		}
		if !book.IsDefault {
			return nil
		}
		for _, other := range books {
			if other.ID != id {
				other.IsDefault = true
				other.UpdatedAt = l.now()
				return s.SaveBook(ctx, other)
			}
		}
		return nil
	})
	if err != nil {
		return persistence("delete book", err)
	}
	l.Logger.Info("book deleted", zap.String("book", string(id)))
	return nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

// CreateCategory adds a category to a book.
func (b *Books) CreateCategory(ctx context.Context, bookID BookID, c Category) (Category, error) {
	if c.Name == "" {
		return Category{}, invalid("name", "name is required")
	}
	if c.Kind != KindIncome && c.Kind != KindExpense {
		return Category{}, invalid("kind", "category kind must be income or expense, got %q", c.Kind)
	}
	l := b.Ledger
	err := l.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetBook(ctx, bookID); err != nil {
			return err
		}
		c.ID = CategoryID(uuid.NewString())
		c.BookID = bookID
		c.CreatedAt = l.now()
		return s.SaveCategory(ctx, c)
	})
	if err != nil {
		return Category{}, persistence("create category", err)
	}
	return c, nil
}

// ListCategories returns the categories of a book.
func (b *Books) ListCategories(ctx context.Context, bookID BookID) ([]Category, error) {
	return b.Ledger.Store.ListCategories(ctx, bookID)
}

// DeleteCategory removes a category. Transactions keep their category id.
func (b *Books) DeleteCategory(ctx context.Context, bookID BookID, id CategoryID) error {
	return persistence("delete category", b.Ledger.Store.DeleteCategory(ctx, bookID, id))
}
