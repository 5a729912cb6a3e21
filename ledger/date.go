package ledger

import (
	"time"
)

// =============================================================================
// DATES - Transactions and schedules are day-granular, in UTC
// =============================================================================

const dateLayout = "2006-01-02"

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a day-granular date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, invalid("date", "invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

func DateString(t time.Time) string { return t.Format(dateLayout) }

func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func StartOfMonth(year int, month time.Month) time.Time { return NewDate(year, month, 1) }
func EndOfMonth(year int, month time.Month) time.Time {
	return NewDate(year, month, DaysIn(year, month))
}
func StartOfYear(year int) time.Time { return NewDate(year, time.January, 1) }
func EndOfYear(year int) time.Time   { return NewDate(year, time.December, 31) }

// addMonthsClamped moves t by n months, landing on anchorDay or the last
// day of the target month when it is shorter.
func addMonthsClamped(t time.Time, n, anchorDay int) time.Time {
	if anchorDay < 1 {
		anchorDay = t.Day()
	}
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := min(anchorDay, DaysIn(first.Year(), first.Month()))
	return first.AddDate(0, 0, day-1)
}

// =============================================================================
// PERIOD - Inclusive date range for reports and queries
// =============================================================================

type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t falls on a day within [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(DateOf(p.Start)) && !d.After(DateOf(p.End))
}

// IsZero reports an unbounded period.
func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }

func (p Period) String() string {
	return "[" + DateString(p.Start) + ", " + DateString(p.End) + "]"
}

func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// Filter narrows a TransactionFilter to the period.
func (p Period) Filter(f TransactionFilter) TransactionFilter {
	if !p.Start.IsZero() {
		start := DateOf(p.Start)
		f.From = &start
	}
	if !p.End.IsZero() {
		end := DateOf(p.End)
		f.To = &end
	}
	return f
}
