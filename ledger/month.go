package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH YEAR - Ledger month key ("YYYY-MM")
// =============================================================================

const monthYearLayout = "2006-01"

// MonthYear identifies a ledger month. The zero value means "unset".
// Lexical order equals chronological order.
type MonthYear string

// ParseMonthYear validates s as "YYYY-MM".
func ParseMonthYear(s string) (MonthYear, error) {
	t, err := time.Parse(monthYearLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonthYear, s)
	}
	return MonthOf(t), nil
}

// MonthOf truncates t to its ledger month (in t's own location).
func MonthOf(t time.Time) MonthYear {
	return MonthYear(t.Format(monthYearLayout))
}

func NewMonthYear(year int, month time.Month) MonthYear {
	return MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

func (m MonthYear) Valid() bool {
	_, err := time.Parse(monthYearLayout, string(m))
	return err == nil
}

// Start returns midnight UTC on the first day of the month.
func (m MonthYear) Start() time.Time {
	t, _ := time.Parse(monthYearLayout, string(m))
	return t
}

func (m MonthYear) Next() MonthYear     { return MonthOf(m.Start().AddDate(0, 1, 0)) }
func (m MonthYear) Previous() MonthYear { return MonthOf(m.Start().AddDate(0, -1, 0)) }

func (m MonthYear) Before(other MonthYear) bool { return m < other }
func (m MonthYear) After(other MonthYear) bool  { return m > other }
func (m MonthYear) String() string              { return string(m) }

// MonthRange returns every month in the closed range [from, to].
// It returns nil when to is before from or either bound is malformed.
func MonthRange(from, to MonthYear) []MonthYear {
	if !from.Valid() || !to.Valid() || to.Before(from) {
		return nil
	}
	var months []MonthYear
	for m := from; !m.After(to); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// =============================================================================
// CLOCK - Injected "now" for the scheduler
// =============================================================================

// Clock supplies the current time. The engine never reads time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Used in tests and replays.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// Date builds a UTC midnight time. Small helper for callers and tests.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
