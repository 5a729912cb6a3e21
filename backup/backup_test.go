package backup_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeper/backup"
	"github.com/warp/bookkeeper/factory"
	"github.com/warp/bookkeeper/ledger"
	"github.com/warp/bookkeeper/store/memory"
)

var testNow = time.Date(2024, time.April, 15, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// household builds one book with nested accounts, a split, a manual
// balance edit and a caught-up schedule.
func household(t *testing.T, l *ledger.Ledger) ledger.Book {
	t.Helper()
	ctx := context.Background()
	books := ledger.NewBooks(l)

	book, err := books.Create(ctx, ledger.BookInput{OwnerID: "alice", Name: "Household", Currency: "USD", Settings: map[string]string{"theme": "dark"}})
	require.NoError(t, err)

	account := func(name string, typ ledger.AccountType, parent ledger.AccountID, opening string) ledger.AccountID {
		in := ledger.AccountInput{Name: name, Type: typ, ParentID: parent}
		if opening != "" {
			in.OpeningBalance = dec(opening)
		}
		a, err := l.CreateAccount(ctx, book.ID, in)
		require.NoError(t, err)
		return a.ID
	}
	bank := account("Bank", ledger.AccountAsset, "", "5000")
	cash := account("Cash", ledger.AccountAsset, "", "200")
	card := account("Card", ledger.AccountLiability, "", "")
	living := account("Living", ledger.AccountExpense, "", "")
	dining := account("Dining", ledger.AccountExpense, living, "")
	rent := account("Rent", ledger.AccountExpense, living, "")

	food, err := books.CreateCategory(ctx, book.ID, ledger.Category{Name: "Food", Kind: ledger.KindExpense})
	require.NoError(t, err)

	_, err = l.Create(ctx, book.ID, ledger.SplitIntent{
		Header: ledger.Header{Description: "Dinner", Date: ledger.NewDate(2024, time.March, 9), CategoryID: food.ID, Tags: []string{"friends"}},
		Entries: []ledger.Entry{
			{AccountID: dining, Amount: dec("90"), Side: ledger.Debit},
			{AccountID: cash, Amount: dec("30"), Side: ledger.Credit, Memo: "tip"},
			{AccountID: card, Amount: dec("60"), Side: ledger.Credit},
		},
	})
	require.NoError(t, err)

	counted := dec("150")
	_, err = l.UpdateAccount(ctx, book.ID, cash, ledger.AccountPatch{Balance: &counted})
	require.NoError(t, err)

	sc := ledger.NewScheduler(l)
	_, err = sc.Create(ctx, book.ID, ledger.RecurringInput{
		Frequency: ledger.FreqMonthly,
		Interval:  1,
		StartDate: ledger.NewDate(2024, time.February, 1),
		Template: ledger.Template{
			Description:   "Rent",
			Kind:          ledger.KindExpense,
			FromAccountID: bank,
			ToAccountID:   rent,
			Amount:        dec("1200"),
		},
	})
	require.NoError(t, err)
	_, err = sc.ProcessDue(ctx, book.ID, testNow)
	require.NoError(t, err)
	return book
}

func balancesByPath(t *testing.T, l *ledger.Ledger, bookID ledger.BookID) map[string]string {
	t.Helper()
	accounts, err := l.ListAccounts(context.Background(), bookID)
	require.NoError(t, err)
	paths := ledger.AccountPaths(accounts)
	out := make(map[string]string, len(accounts))
	for _, a := range accounts {
		out[paths[a.ID]] = a.Balance.String()
	}
	return out
}

func TestExportRestore_RoundTrip(t *testing.T) {
	// GIVEN: A household book for alice
	// WHEN: It is exported, serialized and restored for bob
	// THEN: Bob's book has the same balances, history and schedule cursor

	m := memory.New()
	l := ledger.New(m, nil)
	l.Now = func() time.Time { return testNow }
	ctx := context.Background()
	original := household(t, l)

	doc, err := backup.Export(ctx, m, "alice", testNow)
	require.NoError(t, err)
	require.Len(t, doc.Books, 1)
	assert.Equal(t, backup.Version, doc.Version)
	assert.Len(t, doc.Books[0].Transactions, 4)

	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	read, err := backup.Read(&buf)
	require.NoError(t, err)

	report, err := backup.NewRestorer(l).Restore(ctx, read, "bob")
	require.NoError(t, err)
	require.Len(t, report.Books, 1)
	assert.Equal(t, 6, report.Accounts)
	assert.Equal(t, 1, report.Categories)
	assert.Equal(t, 4, report.Transactions)
	assert.Equal(t, 1, report.Recurring)
	assert.Empty(t, report.Skipped)

	restored := report.Books[0]
	assert.NotEqual(t, original.ID, restored)
	assert.Equal(t, balancesByPath(t, l, original.ID), balancesByPath(t, l, restored))

	book, err := ledger.NewBooks(l).Get(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, "bob", book.OwnerID)
	assert.True(t, book.IsDefault)
	assert.Equal(t, "dark", book.Settings["theme"])

	// The split keeps its memo, tags and remapped category.
	txs, err := l.ListTransactions(ctx, ledger.TransactionFilter{BookID: restored})
	require.NoError(t, err)
	require.Len(t, txs, 4)
	// Ordered by date: Feb 1 rent, Mar 1 rent, Mar 9 dinner, Apr 1 rent.
	dinner := txs[2]
	assert.Equal(t, "Dinner", dinner.Description)
	assert.Empty(t, dinner.RecurringID)
	assert.Equal(t, []string{"friends"}, dinner.Tags)
	assert.Equal(t, "tip", dinner.Splits[1].Memo)
	categories, err := ledger.NewBooks(l).ListCategories(ctx, restored)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, categories[0].ID, dinner.CategoryID)

	// Occurrences are re-keyed to the new schedule and the cursor is kept,
	// so nothing fires twice.
	sc := ledger.NewScheduler(l)
	schedules, err := sc.List(ctx, restored)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "2024-05-01", ledger.DateString(schedules[0].NextRun))
	for _, tx := range []ledger.Transaction{txs[0], txs[1], txs[3]} {
		assert.Equal(t, "Rent", tx.Description)
		assert.Equal(t, schedules[0].ID, tx.RecurringID)
		assert.Equal(t, ledger.OccurrenceKey(schedules[0].ID, tx.Date), tx.IdempotencyKey)
	}
	result, err := sc.ProcessDue(ctx, restored, testNow)
	require.NoError(t, err)
	assert.Empty(t, result.Materialized)

	drifts, err := l.VerifyBalances(ctx, restored)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestRestore_SkipsBrokenSchedule(t *testing.T) {
	m := memory.New()
	l := ledger.New(m, nil)
	l.Now = func() time.Time { return testNow }
	ctx := context.Background()
	household(t, l)

	doc, err := backup.Export(ctx, m, "alice", testNow)
	require.NoError(t, err)
	doc.Books[0].Recurring[0].Template.ToAccountID = "gone"
	// Occurrences of the skipped schedule are restored as plain transactions.
	for i := range doc.Books[0].Transactions {
		doc.Books[0].Transactions[i].IdempotencyKey = ""
	}

	report, err := backup.NewRestorer(l).Restore(ctx, doc, "carol")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Recurring)
	require.Len(t, report.Skipped, 1)
	assert.True(t, strings.HasPrefix(report.Skipped[0], "recurring "))
	assert.Equal(t, 4, report.Transactions)
}

func TestRestore_BalanceMismatchFails(t *testing.T) {
	m := memory.New()
	l := ledger.New(m, nil)
	l.Now = func() time.Time { return testNow }
	ctx := context.Background()
	household(t, l)

	doc, err := backup.Export(ctx, m, "alice", testNow)
	require.NoError(t, err)
	doc.Books[0].Accounts[0].Balance = doc.Books[0].Accounts[0].Balance.Add(dec("1"))

	_, err = backup.NewRestorer(l).Restore(ctx, doc, "dave")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restored with balance")

	books, err := m.ListBooks(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestRestore_FailureLeavesNoBook(t *testing.T) {
	// GIVEN: A backup whose last transaction references an unknown account
	// WHEN: It is restored for a new owner
	// THEN: The restore fails, the owner has no books and a clean retry
	//       produces exactly one book

	m := memory.New()
	l := ledger.New(m, nil)
	l.Now = func() time.Time { return testNow }
	ctx := context.Background()
	household(t, l)

	doc, err := backup.Export(ctx, m, "alice", testNow)
	require.NoError(t, err)
	good, err := backup.Export(ctx, m, "alice", testNow)
	require.NoError(t, err)
	txs := doc.Books[0].Transactions
	last := &txs[len(txs)-1]
	last.Entries = append([]factory.EntryJSON(nil), last.Entries...)
	last.Entries[0].AccountID = "gone"

	_, err = backup.NewRestorer(l).Restore(ctx, doc, "bob")
	require.Error(t, err)

	books, err := m.ListBooks(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, books)

	report, err := backup.NewRestorer(l).Restore(ctx, good, "bob")
	require.NoError(t, err)
	books, err = m.ListBooks(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, report.Books[0], books[0].ID)
	assert.True(t, books[0].IsDefault)
}

func TestRestore_FailureKeepsExistingDefault(t *testing.T) {
	// GIVEN: Alice owns a default book and a broken backup marked default
	// WHEN: The backup is restored into alice's account
	// THEN: Alice still has only her original book, still the default

	m := memory.New()
	l := ledger.New(m, nil)
	l.Now = func() time.Time { return testNow }
	ctx := context.Background()
	original := household(t, l)

	doc, err := backup.Export(ctx, m, "alice", testNow)
	require.NoError(t, err)
	require.True(t, doc.Books[0].IsDefault)
	doc.Books[0].Accounts[0].Balance = doc.Books[0].Accounts[0].Balance.Add(dec("1"))

	_, err = backup.NewRestorer(l).Restore(ctx, doc, "alice")
	require.Error(t, err)

	books, err := m.ListBooks(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, original.ID, books[0].ID)
	assert.True(t, books[0].IsDefault)
}

func TestRead_RejectsUnknownVersion(t *testing.T) {
	_, err := backup.Read(strings.NewReader(`{"version": 2, "books": []}`))
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	_, err = backup.Read(strings.NewReader(`not json`))
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}
