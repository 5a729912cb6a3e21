package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeper/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func rentSchedule(f *fixture, from, to ledger.AccountID, start time.Time) ledger.RecurringInput {
	return ledger.RecurringInput{
		Frequency: ledger.FreqMonthly,
		Interval:  1,
		StartDate: start,
		Template: ledger.Template{
			Description:   "Rent",
			Kind:          ledger.KindExpense,
			FromAccountID: from,
			ToAccountID:   to,
			Amount:        dec("1000"),
		},
	}
}

// =============================================================================
// SCHEDULE ARITHMETIC
// =============================================================================

func TestAdvance(t *testing.T) {
	tests := []struct {
		name      string
		from      time.Time
		freq      ledger.Frequency
		interval  int
		anchorDay int
		want      time.Time
	}{
		{"daily", ledger.NewDate(2024, time.January, 31), ledger.FreqDaily, 1, 31, ledger.NewDate(2024, time.February, 1)},
		{"every 3 days", ledger.NewDate(2024, time.February, 27), ledger.FreqDaily, 3, 27, ledger.NewDate(2024, time.March, 1)},
		{"weekly", ledger.NewDate(2024, time.March, 1), ledger.FreqWeekly, 1, 1, ledger.NewDate(2024, time.March, 8)},
		{"biweekly", ledger.NewDate(2024, time.March, 1), ledger.FreqWeekly, 2, 1, ledger.NewDate(2024, time.March, 15)},
		{"monthly", ledger.NewDate(2024, time.January, 1), ledger.FreqMonthly, 1, 1, ledger.NewDate(2024, time.February, 1)},
		{"monthly clamps to leap February", ledger.NewDate(2024, time.January, 31), ledger.FreqMonthly, 1, 31, ledger.NewDate(2024, time.February, 29)},
		{"monthly recovers anchor day", ledger.NewDate(2024, time.February, 29), ledger.FreqMonthly, 1, 31, ledger.NewDate(2024, time.March, 31)},
		{"monthly clamps to 30-day month", ledger.NewDate(2024, time.March, 31), ledger.FreqMonthly, 1, 31, ledger.NewDate(2024, time.April, 30)},
		{"quarterly", ledger.NewDate(2024, time.November, 15), ledger.FreqMonthly, 3, 15, ledger.NewDate(2025, time.February, 15)},
		{"yearly from leap day", ledger.NewDate(2024, time.February, 29), ledger.FreqYearly, 1, 29, ledger.NewDate(2025, time.February, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.Advance(tt.from, tt.freq, tt.interval, tt.anchorDay)
			require.NoError(t, err)
			assert.Equal(t, ledger.DateString(tt.want), ledger.DateString(got))
		})
	}
}

func TestAdvance_Invalid(t *testing.T) {
	_, err := ledger.Advance(ledger.NewDate(2024, time.January, 1), ledger.FreqMonthly, 0, 1)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	_, err = ledger.Advance(ledger.NewDate(2024, time.January, 1), "hourly", 1, 1)
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestOccurrenceKey(t *testing.T) {
	key := ledger.OccurrenceKey("rec-1", time.Date(2024, time.May, 1, 13, 0, 0, 0, time.UTC))
	assert.Equal(t, "recurring:rec-1:2024-05-01", key)
}

// =============================================================================
// PROCESSING
// =============================================================================

func TestProcessDue_CatchesUpMonthly(t *testing.T) {
	// GIVEN: Monthly rent starting 2024-01-01
	// WHEN: Processing runs on 2024-04-15
	// THEN: Jan, Feb, Mar and Apr are materialized and NextRun is 2024-05-01

	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "10000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)

	r, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.January, 1)))
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.Equal(t, "2024-01-01", ledger.DateString(r.NextRun))

	result, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 4)
	assert.Equal(t, 0, result.Failed)

	txs, err := f.ledger.ListTransactions(f.ctx, ledger.TransactionFilter{BookID: f.book.ID, RecurringID: r.ID})
	require.NoError(t, err)
	require.Len(t, txs, 4)
	for i, tx := range txs {
		want := ledger.NewDate(2024, time.Month(i+1), 1)
		assert.Equal(t, ledger.DateString(want), ledger.DateString(tx.Date), "dated at the occurrence, not at processing time")
		assert.Equal(t, ledger.OccurrenceKey(r.ID, want), tx.IdempotencyKey)
	}

	after, err := sc.Get(f.ctx, f.book.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", ledger.DateString(after.NextRun))
	require.NotNil(t, after.LastRun)
	assert.Equal(t, "2024-04-01", ledger.DateString(*after.LastRun))

	assertDec(t, "6000", f.balance(t, bank))
	assertDec(t, "4000", f.balance(t, rent))
	f.assertVerified(t)

	// Re-running at the same instant materializes nothing.
	again, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, again.Materialized)
	assertDec(t, "6000", f.balance(t, bank))
}

func TestProcessDue_MonthEndSchedule(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "10000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)

	r, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.January, 31)))
	require.NoError(t, err)

	_, err = sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)

	txs, err := f.ledger.ListTransactions(f.ctx, ledger.TransactionFilter{BookID: f.book.ID, RecurringID: r.ID})
	require.NoError(t, err)
	var dates []string
	for _, tx := range txs {
		dates = append(dates, ledger.DateString(tx.Date))
	}
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31"}, dates)

	after, err := sc.Get(f.ctx, f.book.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", ledger.DateString(after.NextRun))
}

func TestProcessDue_CatchUpLimit(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "100000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	sc.MaxCatchUp = 2

	in := rentSchedule(f, bank, rent, ledger.NewDate(2024, time.April, 1))
	in.Frequency = ledger.FreqDaily
	_, err := sc.Create(f.ctx, f.book.ID, in)
	require.NoError(t, err)

	first, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, first.Materialized, 2, "one pass stops at the catch-up limit")

	second, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, second.Materialized, 2, "the next pass continues where the last stopped")
}

func TestProcessDue_FailureIsScheduleConsistencyError(t *testing.T) {
	// GIVEN: A due schedule and a store that cannot advance the cursor
	// WHEN: Processing runs
	// THEN: Neither the transaction nor the cursor move, and the error is
	//       a ScheduleConsistencyError; a later pass succeeds

	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "5000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	r, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.April, 1)))
	require.NoError(t, err)

	f.store.InjectFault("SaveRecurring", errors.New("write conflict"))
	result, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrScheduleConsistency))
	var sce *ledger.ScheduleConsistencyError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, r.ID, sce.RecurringID)
	assert.Equal(t, "2024-04-01", sce.Occurrence)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Materialized)

	txs, err := f.ledger.ListTransactions(f.ctx, ledger.TransactionFilter{BookID: f.book.ID})
	require.NoError(t, err)
	assert.Empty(t, txs, "the occurrence must not exist without its cursor move")
	assertDec(t, "5000", f.balance(t, bank))

	f.store.InjectFault("SaveRecurring", nil)
	result, err = sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 1)
	assertDec(t, "4000", f.balance(t, bank))
}

func TestProcessDue_ExistingOccurrenceOnlyAdvances(t *testing.T) {
	// GIVEN: An occurrence already recorded for the schedule's NextRun
	// WHEN: Processing runs
	// THEN: No second transaction is written, only the cursor moves

	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "5000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	r, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.April, 1)))
	require.NoError(t, err)

	occurrence := ledger.NewDate(2024, time.April, 1)
	intent, err := ledger.TemplateIntent(r.Template, occurrence, ledger.OccurrenceKey(r.ID, occurrence))
	require.NoError(t, err)
	_, err = f.ledger.CreateOccurrence(f.ctx, f.book.ID, r.ID, intent)
	require.NoError(t, err)

	result, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, result.Materialized)
	assert.Equal(t, 1, result.Advanced)
	assertDec(t, "4000", f.balance(t, bank))

	after, err := sc.Get(f.ctx, f.book.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", ledger.DateString(after.NextRun))
}

func TestProcessAll_AcrossBooks(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "5000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	_, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.April, 1)))
	require.NoError(t, err)

	other, err := f.books.Create(f.ctx, ledger.BookInput{OwnerID: "bob", Name: "Bob", Currency: "USD"})
	require.NoError(t, err)
	obank, err := f.ledger.CreateAccount(f.ctx, other.ID, ledger.AccountInput{Name: "Bank", Type: ledger.AccountAsset})
	require.NoError(t, err)
	orent, err := f.ledger.CreateAccount(f.ctx, other.ID, ledger.AccountInput{Name: "Rent", Type: ledger.AccountExpense})
	require.NoError(t, err)
	_, err = sc.Create(f.ctx, other.ID, rentSchedule(f, obank.ID, orent.ID, ledger.NewDate(2024, time.April, 1)))
	require.NoError(t, err)

	result, err := sc.ProcessAll(f.ctx, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 2)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestScheduler_CreateValidatesTemplate(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)

	bad := rentSchedule(f, bank, "missing", ledger.NewDate(2024, time.April, 1))
	_, err := sc.Create(f.ctx, f.book.ID, bad)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	bad = rentSchedule(f, bank, rent, ledger.NewDate(2024, time.April, 1))
	bad.Interval = 0
	_, err = sc.Create(f.ctx, f.book.ID, bad)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	bad = rentSchedule(f, bank, rent, time.Time{})
	_, err = sc.Create(f.ctx, f.book.ID, bad)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	bad = rentSchedule(f, bank, rent, ledger.NewDate(2024, time.April, 1))
	bad.Template.Amount = dec("0")
	_, err = sc.Create(f.ctx, f.book.ID, bad)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	list, err := sc.List(f.ctx, f.book.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestScheduler_SplitTemplate(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "")
	tax := f.account(t, "Tax", ledger.AccountExpense, "")
	salary := f.account(t, "Salary", ledger.AccountIncome, "")
	sc := ledger.NewScheduler(f.ledger)

	_, err := sc.Create(f.ctx, f.book.ID, ledger.RecurringInput{
		Frequency: ledger.FreqMonthly,
		Interval:  1,
		StartDate: ledger.NewDate(2024, time.April, 1),
		Template: ledger.Template{
			Description: "Paycheck",
			Kind:        ledger.KindSplit,
			Entries: []ledger.Entry{
				{AccountID: bank, Amount: dec("800"), Side: ledger.Debit},
				{AccountID: tax, Amount: dec("200"), Side: ledger.Debit},
				{AccountID: salary, Amount: dec("1000"), Side: ledger.Credit},
			},
		},
	})
	require.NoError(t, err)

	result, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 1)
	assertDec(t, "800", f.balance(t, bank))
	assertDec(t, "200", f.balance(t, tax))
	assertDec(t, "1000", f.balance(t, salary))
}

func TestScheduler_PausedSchedulesAreSkipped(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "5000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	r, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	paused, err := sc.Pause(f.ctx, f.book.ID, r.ID)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	result, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, result.Materialized)

	// Resuming without a skip date catches up everything missed.
	_, err = sc.Resume(f.ctx, f.book.ID, r.ID, time.Time{})
	require.NoError(t, err)
	result, err = sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 4)
}

func TestScheduler_ResumeSkippingMissed(t *testing.T) {
	// GIVEN: A schedule paused since January
	// WHEN: It is resumed skipping everything before April
	// THEN: Only April is materialized

	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "5000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	in := rentSchedule(f, bank, rent, ledger.NewDate(2024, time.January, 1))
	in.Paused = true
	r, err := sc.Create(f.ctx, f.book.ID, in)
	require.NoError(t, err)
	assert.False(t, r.Active)

	resumed, err := sc.Resume(f.ctx, f.book.ID, r.ID, ledger.NewDate(2024, time.April, 1))
	require.NoError(t, err)
	assert.True(t, resumed.Active)
	assert.Equal(t, "2024-04-01", ledger.DateString(resumed.NextRun))

	result, err := sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, result.Materialized, 1)
	assertDec(t, "4000", f.balance(t, bank))
}

func TestScheduler_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "5000")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	sc := ledger.NewScheduler(f.ledger)
	r, err := sc.Create(f.ctx, f.book.ID, rentSchedule(f, bank, rent, ledger.NewDate(2024, time.March, 1)))
	require.NoError(t, err)
	_, err = sc.ProcessDue(f.ctx, f.book.ID, testNow)
	require.NoError(t, err)

	// Changing only the amount keeps the cursor.
	in := rentSchedule(f, bank, rent, ledger.NewDate(2024, time.March, 1))
	in.Template.Amount = dec("1100")
	updated, err := sc.Update(f.ctx, f.book.ID, r.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", ledger.DateString(updated.NextRun))
	assertDec(t, "1100", updated.Template.Amount)

	require.NoError(t, sc.Delete(f.ctx, f.book.ID, r.ID))
	_, err = sc.Get(f.ctx, f.book.ID, r.ID)
	assert.True(t, ledger.IsNotFound(err))

	// Materialized history survives the schedule.
	txs, err := f.ledger.ListTransactions(f.ctx, ledger.TransactionFilter{BookID: f.book.ID})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	assert.True(t, ledger.IsNotFound(sc.Delete(f.ctx, f.book.ID, r.ID)))
}

func TestCreateOccurrence_UnknownSchedule(t *testing.T) {
	f := newFixture(t)
	bank := f.account(t, "Bank", ledger.AccountAsset, "100")
	rent := f.account(t, "Rent", ledger.AccountExpense, "")
	_, err := f.ledger.CreateOccurrence(f.ctx, f.book.ID, "missing", f.transfer("Rent", bank, rent, "10"))
	assert.True(t, ledger.IsNotFound(err))
}
