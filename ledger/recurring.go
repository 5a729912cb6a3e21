/*
recurring.go - Recurring transaction schedules and materialization

PURPOSE:
  A RecurringTransaction is a template plus a schedule. Processing turns
  every due occurrence into a real transaction dated at its scheduled
  NextRun (not the wall-clock time of processing) and moves the cursor
  forward by exactly Interval periods of Frequency.

STATE MACHINE:
  active <-> paused (user-controlled)
  Within active, NextRun only moves forward.

EXACTLY ONCE:
  Materializing an occurrence and advancing NextRun happen in the SAME
  store transaction. If either write fails, neither is visible and the
  occurrence is reported as a ScheduleConsistencyError. Each occurrence
  also carries a deterministic idempotency key, so a replay of the same
  occurrence can never insert a second transaction.

CATCH-UP:
  Processing loops per schedule until NextRun is after "now":

    monthly, interval 1, NextRun 2024-01-01, processed 2024-04-15
    -> Jan 1, Feb 1, Mar 1, Apr 1 materialized, NextRun = 2024-05-01

MONTH ENDS:
  Monthly and yearly schedules keep the day-of-month of StartDate and
  clamp to the last day of shorter months (Jan 31 -> Feb 29 -> Mar 31).
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxCatchUp bounds how many occurrences of one schedule a single
// processing pass materializes.
const DefaultMaxCatchUp = 1000

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

// Advance returns the occurrence interval periods after from.
// anchorDay is the preferred day of month for monthly/yearly schedules.
func Advance(from time.Time, f Frequency, interval, anchorDay int) (time.Time, error) {
	if interval < 1 {
		return time.Time{}, invalid("interval", "interval must be at least 1, got %d", interval)
	}
	switch f {
	case FreqDaily:
		return from.AddDate(0, 0, interval), nil
	case FreqWeekly:
		return from.AddDate(0, 0, 7*interval), nil
	case FreqMonthly:
		return addMonthsClamped(from, interval, anchorDay), nil
	case FreqYearly:
		return addMonthsClamped(from, 12*interval, anchorDay), nil
	default:
		return time.Time{}, invalid("frequency", "unknown frequency %q", f)
	}
}

// OccurrenceKey is the idempotency key of one scheduled occurrence.
func OccurrenceKey(id RecurringID, at time.Time) string {
	return fmt.Sprintf("recurring:%s:%s", id, DateString(at))
}

// TemplateIntent builds the intent a template materializes on a date.
func TemplateIntent(t Template, date time.Time, key string) (Intent, error) {
	h := Header{
		Description:    t.Description,
		Date:           date,
		Currency:       t.Currency,
		Notes:          t.Notes,
		CategoryID:     t.CategoryID,
		Tags:           t.Tags,
		IdempotencyKey: key,
	}
	switch t.Kind {
	case KindSplit:
		return SplitIntent{Header: h, Entries: t.Entries}, nil
	case KindIncome, KindExpense, KindTransfer:
		return TransferIntent{Header: h, FromAccountID: t.FromAccountID, ToAccountID: t.ToAccountID, Amount: t.Amount}, nil
	default:
		return nil, invalid("template.kind", "unknown template kind %q", t.Kind)
	}
}

func templateUses(t Template, id AccountID) bool {
	if t.FromAccountID == id || t.ToAccountID == id {
		return true
	}
	for _, e := range t.Entries {
		if e.AccountID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler manages schedules and materializes due occurrences.
type Scheduler struct {
	Ledger     *Ledger
	MaxCatchUp int
}

// NewScheduler creates a scheduler writing through l.
func NewScheduler(l *Ledger) *Scheduler {
	return &Scheduler{Ledger: l, MaxCatchUp: DefaultMaxCatchUp}
}

// RecurringInput describes a new schedule.
type RecurringInput struct {
	Frequency Frequency
	Interval  int
	StartDate time.Time
	Template  Template
	Paused    bool
}

// ProcessResult summarizes one processing pass.
type ProcessResult struct {
	Materialized []TransactionID
	Advanced     int // occurrences found already materialized; cursor moved only
	Failed       int
}

// Create validates the template against the book and stores the schedule.
func (sc *Scheduler) Create(ctx context.Context, bookID BookID, in RecurringInput) (RecurringTransaction, error) {
	if err := validateSchedule(in.Frequency, in.Interval, in.StartDate); err != nil {
		return RecurringTransaction{}, err
	}
	l := sc.Ledger
	var created RecurringTransaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		if err := sc.checkTemplate(ctx, s, bookID, in.Template, in.StartDate); err != nil {
			return err
		}
		now := l.now()
		start := DateOf(in.StartDate)
		created = RecurringTransaction{
			ID:        RecurringID(uuid.NewString()),
			BookID:    bookID,
			Frequency: in.Frequency,
			Interval:  in.Interval,
			StartDate: start,
			NextRun:   start,
			Active:    !in.Paused,
			Template:  in.Template,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.SaveRecurring(ctx, created)
	})
	if err != nil {
		return RecurringTransaction{}, persistence("create recurring", err)
	}
	return created, nil
}

// Update replaces the template and schedule shape. NextRun is kept unless
// the start date moves, in which case the cursor restarts from it.
func (sc *Scheduler) Update(ctx context.Context, bookID BookID, id RecurringID, in RecurringInput) (RecurringTransaction, error) {
	if err := validateSchedule(in.Frequency, in.Interval, in.StartDate); err != nil {
		return RecurringTransaction{}, err
	}
	l := sc.Ledger
	var updated RecurringTransaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRecurring(ctx, bookID, id)
		if err != nil {
			return err
		}
		if err := sc.checkTemplate(ctx, s, bookID, in.Template, r.NextRun); err != nil {
			return err
		}
		start := DateOf(in.StartDate)
		if !start.Equal(r.StartDate) {
			r.StartDate, r.NextRun = start, start
		}
		r.Frequency, r.Interval, r.Template = in.Frequency, in.Interval, in.Template
		r.UpdatedAt = l.now()
		updated = r
		return s.SaveRecurring(ctx, r)
	})
	if err != nil {
		return RecurringTransaction{}, persistence("update recurring", err)
	}
	return updated, nil
}

// Pause stops materialization without moving the cursor.
func (sc *Scheduler) Pause(ctx context.Context, bookID BookID, id RecurringID) (RecurringTransaction, error) {
	return sc.setActive(ctx, bookID, id, false, time.Time{})
}

// Resume reactivates a schedule. Occurrences missed while paused are
// materialized by the next pass unless skipMissedBefore is set, in which
// case the cursor first advances past it without materializing.
func (sc *Scheduler) Resume(ctx context.Context, bookID BookID, id RecurringID, skipMissedBefore time.Time) (RecurringTransaction, error) {
	return sc.setActive(ctx, bookID, id, true, skipMissedBefore)
}

func (sc *Scheduler) setActive(ctx context.Context, bookID BookID, id RecurringID, active bool, skipBefore time.Time) (RecurringTransaction, error) {
	l := sc.Ledger
	var out RecurringTransaction
	err := l.Store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRecurring(ctx, bookID, id)
		if err != nil {
			return err
		}
		skipped := 0
		for !skipBefore.IsZero() && r.NextRun.Before(DateOf(skipBefore)) {
			if r.NextRun, err = Advance(r.NextRun, r.Frequency, r.Interval, r.StartDate.Day()); err != nil {
				return err
			}
			skipped++
		}
		if skipped > 0 {
			l.Logger.Warn("recurring occurrences skipped on resume",
				zap.String("recurring", string(id)),
				zap.Int("skipped", skipped),
				zap.String("next_run", DateString(r.NextRun)),
			)
		}
		r.Active = active
		r.UpdatedAt = l.now()
		out = r
		return s.SaveRecurring(ctx, r)
	})
	if err != nil {
		return RecurringTransaction{}, persistence("update recurring", err)
	}
	return out, nil
}

// Delete removes a schedule. Materialized transactions are kept.
func (sc *Scheduler) Delete(ctx context.Context, bookID BookID, id RecurringID) error {
	err := sc.Ledger.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetRecurring(ctx, bookID, id); err != nil {
			return err
		}
		return s.DeleteRecurring(ctx, bookID, id)
	})
	return persistence("delete recurring", err)
}

// Get returns one schedule.
func (sc *Scheduler) Get(ctx context.Context, bookID BookID, id RecurringID) (RecurringTransaction, error) {
	return sc.Ledger.Store.GetRecurring(ctx, bookID, id)
}

// List returns the schedules of a book.
func (sc *Scheduler) List(ctx context.Context, bookID BookID) ([]RecurringTransaction, error) {
	return sc.Ledger.Store.ListRecurring(ctx, bookID)
}

// ProcessAll materializes due occurrences across every book.
func (sc *Scheduler) ProcessAll(ctx context.Context, now time.Time) (ProcessResult, error) {
	return sc.ProcessDue(ctx, "", now)
}

// ProcessDue materializes every due occurrence of the active schedules of
// a book. A failing schedule stops at its failed occurrence; the others
// are still processed. The returned error joins every failure.
func (sc *Scheduler) ProcessDue(ctx context.Context, bookID BookID, now time.Time) (ProcessResult, error) {
	l := sc.Ledger
	var result ProcessResult
	due, err := l.Store.ListDueRecurring(ctx, bookID, now)
	if err != nil {
		return result, persistence("list due recurring", err)
	}

	limit := sc.MaxCatchUp
	if limit <= 0 {
		limit = DefaultMaxCatchUp
	}

	var failures []error
	for _, r := range due {
		failed := false
		for n := 0; n < limit && r.Active && !r.NextRun.After(now); n++ {
			next, txID, err := sc.materialize(ctx, r)
			if err != nil {
				failed = true
				result.Failed++
				failures = append(failures, err)
				l.Logger.Error("recurring occurrence not materialized; needs reconciliation",
					zap.String("book", string(r.BookID)),
					zap.String("recurring", string(r.ID)),
					zap.String("occurrence", DateString(r.NextRun)),
					zap.Error(err),
				)
				break
			}
			if txID != "" {
				result.Materialized = append(result.Materialized, txID)
			} else {
				result.Advanced++
			}
			r = next
		}
		if !failed && r.Active && !r.NextRun.After(now) {
			l.Logger.Warn("recurring catch-up limit reached",
				zap.String("recurring", string(r.ID)),
				zap.Int("limit", limit),
			)
		}
	}

	if len(result.Materialized) > 0 || result.Failed > 0 {
		l.Logger.Info("recurring processing completed",
			zap.String("book", string(bookID)),
			zap.Int("materialized", len(result.Materialized)),
			zap.Int("advanced", result.Advanced),
			zap.Int("failed", result.Failed),
		)
	}
	return result, errors.Join(failures...)
}

// materialize writes one occurrence and advances the cursor in one unit.
// It returns the updated schedule and the new transaction id, which is
// empty when the occurrence already existed and only the cursor moved.
func (sc *Scheduler) materialize(ctx context.Context, r RecurringTransaction) (RecurringTransaction, TransactionID, error) {
	l := sc.Ledger
	occurrence := r.NextRun
	key := OccurrenceKey(r.ID, occurrence)

	var (
		updated RecurringTransaction
		txID    TransactionID
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetRecurring(ctx, r.BookID, r.ID)
		if err != nil {
			return err
		}
		if !cur.Active || !cur.NextRun.Equal(occurrence) {
			// Another pass already moved this schedule.
			updated = cur
			return nil
		}

		day := DateOf(occurrence)
		existing, err := s.ListTransactions(ctx, TransactionFilter{BookID: r.BookID, RecurringID: r.ID, From: &day, To: &day})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			intent, err := TemplateIntent(cur.Template, occurrence, key)
			if err != nil {
				return err
			}
			tx, err := l.createIn(ctx, s, r.BookID, intent, r.ID)
			if err != nil {
				return err
			}
			txID = tx.ID
		} else {
			l.Logger.Warn("recurring occurrence already materialized; advancing cursor only",
				zap.String("recurring", string(r.ID)),
				zap.String("occurrence", DateString(occurrence)),
			)
		}

		next, err := Advance(occurrence, cur.Frequency, cur.Interval, cur.StartDate.Day())
		if err != nil {
			return err
		}
		last := occurrence
		cur.LastRun = &last
		cur.NextRun = next
		cur.UpdatedAt = l.now()
		if err := s.SaveRecurring(ctx, cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		return r, "", &ScheduleConsistencyError{RecurringID: r.ID, Occurrence: DateString(occurrence), Err: err}
	}
	return updated, txID, nil
}

func validateSchedule(f Frequency, interval int, start time.Time) error {
	if !f.Valid() {
		return invalid("frequency", "unknown frequency %q", f)
	}
	if interval < 1 {
		return invalid("interval", "interval must be at least 1, got %d", interval)
	}
	if start.IsZero() {
		return invalid("start_date", "start date is required")
	}
	return nil
}

// checkTemplate dry-runs the template so a schedule can never be stored
// in a shape that would fail at materialization time.
func (sc *Scheduler) checkTemplate(ctx context.Context, s Store, bookID BookID, t Template, date time.Time) error {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if t.Kind != KindSplit && !t.Amount.GreaterThan(decimal.Zero) {
		return invalid("template.amount", "amount must be positive, got %s", t.Amount)
	}
	intent, err := TemplateIntent(t, date, "")
	if err != nil {
		return err
	}
	_, err = sc.Ledger.build(ctx, s, book, intent)
	return err
}
