package sqldb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeper/ledger"
	"github.com/warp/bookkeeper/store/sqldb"
)

var testNow = time.Date(2024, time.April, 15, 10, 30, 0, 0, time.UTC)

func setupLedger(t *testing.T) (*sqldb.DB, *ledger.Ledger) {
	t.Helper()
	db, err := sqldb.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := ledger.New(db, nil)
	l.Now = func() time.Time { return testNow }
	return db, l
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newBook(t *testing.T, l *ledger.Ledger, owner string) ledger.Book {
	t.Helper()
	book, err := ledger.NewBooks(l).Create(context.Background(), ledger.BookInput{
		OwnerID:  owner,
		Name:     "Household",
		Currency: "USD",
		Settings: map[string]string{"locale": "en-US"},
	})
	require.NoError(t, err)
	return book
}

func newAccount(t *testing.T, l *ledger.Ledger, bookID ledger.BookID, name string, typ ledger.AccountType, opening string) ledger.Account {
	t.Helper()
	in := ledger.AccountInput{Name: name, Type: typ}
	if opening != "" {
		in.OpeningBalance = dec(opening)
	}
	acc, err := l.CreateAccount(context.Background(), bookID, in)
	require.NoError(t, err)
	return acc
}

func balanceOf(t *testing.T, l *ledger.Ledger, bookID ledger.BookID, id ledger.AccountID) string {
	t.Helper()
	acc, err := l.GetAccount(context.Background(), bookID, id)
	require.NoError(t, err)
	return acc.Balance.String()
}

func TestBooks_RoundTrip(t *testing.T) {
	_, l := setupLedger(t)
	ctx := context.Background()
	books := ledger.NewBooks(l)

	book := newBook(t, l, "alice")
	got, err := books.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Household", got.Name)
	assert.Equal(t, "USD", got.Currency)
	assert.True(t, got.IsDefault)
	assert.Equal(t, "en-US", got.Settings["locale"])
	assert.True(t, got.CreatedAt.Equal(testNow))

	_, err = books.Get(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))

	list, err := books.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = books.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransactions_CreateUpdateDelete(t *testing.T) {
	// GIVEN: Cash 500 and an empty groceries account
	// WHEN: A purchase is recorded, edited, then deleted
	// THEN: Balances follow each step and return to the start

	_, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	cash := newAccount(t, l, book.ID, "Cash", ledger.AccountAsset, "500")
	groceries := newAccount(t, l, book.ID, "Groceries", ledger.AccountExpense, "")

	tx, err := l.Create(ctx, book.ID, ledger.TransferIntent{
		Header:        ledger.Header{Description: "Groceries", Date: ledger.NewDate(2024, time.March, 10), Tags: []string{"food"}},
		FromAccountID: cash.ID,
		ToAccountID:   groceries.ID,
		Amount:        dec("120"),
	})
	require.NoError(t, err)
	assert.Equal(t, "380", balanceOf(t, l, book.ID, cash.ID))
	assert.Equal(t, "120", balanceOf(t, l, book.ID, groceries.ID))

	stored, err := l.GetTransaction(ctx, book.ID, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", ledger.DateString(stored.Date))
	assert.Equal(t, []string{"food"}, stored.Tags)
	require.Len(t, stored.Splits, 2)
	assert.Equal(t, "-120", stored.Splits[0].Value.String())
	assert.Equal(t, ledger.AccountAsset, stored.Splits[0].AccountType)
	assert.Equal(t, "Groceries", stored.Splits[1].AccountPath)

	_, err = l.Update(ctx, book.ID, tx.ID, ledger.TransferIntent{
		Header:        ledger.Header{Description: "Groceries", Date: ledger.NewDate(2024, time.March, 11)},
		FromAccountID: cash.ID,
		ToAccountID:   groceries.ID,
		Amount:        dec("95.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, "404.5", balanceOf(t, l, book.ID, cash.ID))
	assert.Equal(t, "95.5", balanceOf(t, l, book.ID, groceries.ID))

	require.NoError(t, l.Delete(ctx, book.ID, tx.ID))
	assert.Equal(t, "500", balanceOf(t, l, book.ID, cash.ID))
	assert.Equal(t, "0", balanceOf(t, l, book.ID, groceries.ID))

	_, err = l.GetTransaction(ctx, book.ID, tx.ID)
	assert.True(t, ledger.IsNotFound(err))

	drifts, err := l.VerifyBalances(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestTransactions_DuplicateIdempotencyKey(t *testing.T) {
	_, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	cash := newAccount(t, l, book.ID, "Cash", ledger.AccountAsset, "500")
	rent := newAccount(t, l, book.ID, "Rent", ledger.AccountExpense, "")

	intent := ledger.TransferIntent{
		Header:        ledger.Header{Description: "Rent", Date: ledger.NewDate(2024, time.April, 1), IdempotencyKey: "rent-2024-04"},
		FromAccountID: cash.ID,
		ToAccountID:   rent.ID,
		Amount:        dec("100"),
	}
	_, err := l.Create(ctx, book.ID, intent)
	require.NoError(t, err)

	_, err = l.Create(ctx, book.ID, intent)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey))
	assert.Equal(t, "400", balanceOf(t, l, book.ID, cash.ID), "the rejected duplicate must not move balances")

	// Keys are scoped per book.
	other, err := ledger.NewBooks(l).Create(ctx, ledger.BookInput{OwnerID: "alice", Name: "Second", Currency: "USD"})
	require.NoError(t, err)
	ocash := newAccount(t, l, other.ID, "Cash", ledger.AccountAsset, "500")
	orent := newAccount(t, l, other.ID, "Rent", ledger.AccountExpense, "")
	intent.FromAccountID, intent.ToAccountID = ocash.ID, orent.ID
	_, err = l.Create(ctx, other.ID, intent)
	require.NoError(t, err)
}

func TestTransactions_ListFilters(t *testing.T) {
	_, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	cash := newAccount(t, l, book.ID, "Cash", ledger.AccountAsset, "1000")
	bank := newAccount(t, l, book.ID, "Bank", ledger.AccountAsset, "1000")
	dining := newAccount(t, l, book.ID, "Dining", ledger.AccountExpense, "")

	for i, day := range []int{3, 1, 2} {
		from := cash.ID
		if i == 2 {
			from = bank.ID
		}
		_, err := l.Create(ctx, book.ID, ledger.TransferIntent{
			Header:        ledger.Header{Description: "Dinner", Date: ledger.NewDate(2024, time.March, day)},
			FromAccountID: from,
			ToAccountID:   dining.ID,
			Amount:        dec("10"),
		})
		require.NoError(t, err)
	}

	all, err := l.ListTransactions(ctx, ledger.TransactionFilter{BookID: book.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2024-03-01", ledger.DateString(all[0].Date), "ordered by date")
	assert.Len(t, all[0].Splits, 2)

	byCash, err := l.ListTransactions(ctx, ledger.TransactionFilter{BookID: book.ID, AccountID: cash.ID})
	require.NoError(t, err)
	assert.Len(t, byCash, 2)

	from := ledger.NewDate(2024, time.March, 2)
	to := ledger.NewDate(2024, time.March, 2)
	window, err := l.ListTransactions(ctx, ledger.TransactionFilter{BookID: book.ID, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, bank.ID, window[0].Splits[0].AccountID)

	limited, err := l.ListTransactions(ctx, ledger.TransactionFilter{BookID: book.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAccounts_ManualEditsAndActivity(t *testing.T) {
	_, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	cash := newAccount(t, l, book.ID, "Cash", ledger.AccountAsset, "500")

	balance := dec("450")
	name := "Wallet"
	updated, err := l.UpdateAccount(ctx, book.ID, cash.ID, ledger.AccountPatch{Balance: &balance, Name: &name, Note: "counted"})
	require.NoError(t, err)
	assert.Equal(t, "450", updated.Balance.String())
	assert.Equal(t, "450", updated.Adjustment.String())
	assert.Equal(t, "Wallet", updated.Name)

	activities, err := l.ListActivities(ctx, book.ID, cash.ID)
	require.NoError(t, err)
	kinds := make([]ledger.ActivityKind, len(activities))
	for i, a := range activities {
		kinds[i] = a.Kind
	}
	assert.ElementsMatch(t, []ledger.ActivityKind{ledger.ActivityOpening, ledger.ActivityBalance, ledger.ActivityName}, kinds)

	drifts, err := l.VerifyBalances(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestRecurring_ProcessDuePersistsCursor(t *testing.T) {
	// GIVEN: A monthly schedule starting 2024-01-31 stored in SQLite
	// WHEN: Processing runs on 2024-04-15
	// THEN: Three clamped occurrences exist and the cursor survives a reload

	_, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	bank := newAccount(t, l, book.ID, "Bank", ledger.AccountAsset, "5000")
	rent := newAccount(t, l, book.ID, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(l)

	r, err := sc.Create(ctx, book.ID, ledger.RecurringInput{
		Frequency: ledger.FreqMonthly,
		Interval:  1,
		StartDate: ledger.NewDate(2024, time.January, 31),
		Template: ledger.Template{
			Description:   "Rent",
			Kind:          ledger.KindExpense,
			FromAccountID: bank.ID,
			ToAccountID:   rent.ID,
			Amount:        dec("1000"),
			Tags:          []string{"home"},
		},
	})
	require.NoError(t, err)

	result, err := sc.ProcessDue(ctx, book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 3)

	reloaded, err := sc.Get(ctx, book.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", ledger.DateString(reloaded.NextRun))
	require.NotNil(t, reloaded.LastRun)
	assert.Equal(t, "2024-03-31", ledger.DateString(*reloaded.LastRun))
	assert.Equal(t, []string{"home"}, reloaded.Template.Tags)
	assert.Equal(t, "1000", reloaded.Template.Amount.String())

	txs, err := l.ListTransactions(ctx, ledger.TransactionFilter{BookID: book.ID, RecurringID: r.ID})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, ledger.OccurrenceKey(r.ID, ledger.NewDate(2024, time.February, 29)), txs[1].IdempotencyKey)
	assert.Equal(t, "2000", balanceOf(t, l, book.ID, bank.ID))

	again, err := sc.ProcessDue(ctx, book.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, again.Materialized)

	_, err = sc.Pause(ctx, book.ID, r.ID)
	require.NoError(t, err)
	due, err := l.Store.ListDueRecurring(ctx, "", ledger.NewDate(2025, time.January, 1))
	require.NoError(t, err)
	assert.Empty(t, due, "paused schedules are never due")
}

func TestDeleteBook_Cascades(t *testing.T) {
	_, l := setupLedger(t)
	ctx := context.Background()
	books := ledger.NewBooks(l)
	book := newBook(t, l, "alice")
	keep, err := books.Create(ctx, ledger.BookInput{OwnerID: "alice", Name: "Keep", Currency: "USD"})
	require.NoError(t, err)

	cash := newAccount(t, l, book.ID, "Cash", ledger.AccountAsset, "100")
	food := newAccount(t, l, book.ID, "Food", ledger.AccountExpense, "")
	_, err = l.Create(ctx, book.ID, ledger.TransferIntent{
		Header:        ledger.Header{Description: "Lunch", Date: ledger.NewDate(2024, time.April, 1), IdempotencyKey: "lunch"},
		FromAccountID: cash.ID,
		ToAccountID:   food.ID,
		Amount:        dec("12"),
	})
	require.NoError(t, err)
	_, err = books.CreateCategory(ctx, book.ID, ledger.Category{Name: "Food", Kind: ledger.KindExpense})
	require.NoError(t, err)

	require.NoError(t, books.Delete(ctx, book.ID))

	remaining, err := books.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)
	assert.True(t, remaining[0].IsDefault)

	txs, err := l.Store.ListTransactions(ctx, ledger.TransactionFilter{BookID: book.ID})
	require.NoError(t, err)
	assert.Empty(t, txs)
	accounts, err := l.Store.ListAccounts(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	categories, err := l.Store.ListCategories(ctx, book.ID)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestRecurring_DueDateUsesUTC(t *testing.T) {
	// GIVEN: A schedule next due on 2024-04-15
	// WHEN: Due schedules are listed at 20:00 on 2024-04-14 in UTC-10,
	//       which is already 06:00 on 2024-04-15 in UTC
	// THEN: The schedule is due

	db, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	bank := newAccount(t, l, book.ID, "Bank", ledger.AccountAsset, "5000")
	rent := newAccount(t, l, book.ID, "Rent", ledger.AccountExpense, "")

	r, err := ledger.NewScheduler(l).Create(ctx, book.ID, ledger.RecurringInput{
		Frequency: ledger.FreqMonthly,
		Interval:  1,
		StartDate: ledger.NewDate(2024, time.April, 15),
		Template: ledger.Template{
			Description:   "Rent",
			Kind:          ledger.KindExpense,
			FromAccountID: bank.ID,
			ToAccountID:   rent.ID,
			Amount:        dec("1000"),
		},
	})
	require.NoError(t, err)

	asOf := time.Date(2024, time.April, 14, 20, 0, 0, 0, time.FixedZone("UTC-10", -10*3600))
	due, err := db.ListDueRecurring(ctx, book.ID, asOf)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, r.ID, due[0].ID)
}

func TestScan_CorruptRowsReturnErrors(t *testing.T) {
	// GIVEN: Rows whose stored delta, date and timestamp no longer parse
	// WHEN: They are read back
	// THEN: Each read fails with an error instead of a zero value or a panic

	db, l := setupLedger(t)
	ctx := context.Background()
	book := newBook(t, l, "alice")
	cash := newAccount(t, l, book.ID, "Cash", ledger.AccountAsset, "500")
	groceries := newAccount(t, l, book.ID, "Groceries", ledger.AccountExpense, "")
	tx, err := l.Create(ctx, book.ID, ledger.TransferIntent{
		Header:        ledger.Header{Description: "Groceries", Date: ledger.NewDate(2024, time.March, 10)},
		FromAccountID: cash.ID,
		ToAccountID:   groceries.ID,
		Amount:        dec("120"),
	})
	require.NoError(t, err)

	require.NoError(t, db.ExecRaw(ctx, `UPDATE activities SET delta = ? WHERE book_id = ?`, "lots", book.ID))
	assert.NotPanics(t, func() {
		_, err = db.ListActivities(ctx, book.ID, "")
	})
	assert.ErrorContains(t, err, `invalid activity delta "lots"`)

	require.NoError(t, db.ExecRaw(ctx, `UPDATE transactions SET date = ? WHERE id = ?`, "10/03/2024", tx.ID))
	_, err = db.GetTransaction(ctx, book.ID, tx.ID)
	assert.ErrorContains(t, err, `invalid date "10/03/2024"`)

	require.NoError(t, db.ExecRaw(ctx, `UPDATE accounts SET updated_at = ? WHERE id = ?`, "yesterday", cash.ID))
	_, err = db.GetAccount(ctx, book.ID, cash.ID)
	assert.ErrorContains(t, err, `invalid timestamp "yesterday"`)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := sqldb.Open("mysql", "whatever")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	db, _ := setupLedger(t)
	assert.NoError(t, db.Ping(context.Background()))
}
