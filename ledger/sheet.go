/*
sheet.go - Monthly balance sheets

PURPOSE:
  Rolls settled payments up into one sheet per month and checks that the
  chain of months is continuous.

CONTINUITY:
  closing[i] = opening[i] + income[i] - expenses[i]
  opening[i] = closing[i-1], opening[0] = 0

  Every month between the first and last month with a settled payment
  gets a sheet, even when nothing happened in it. A missing month would
  otherwise break the chain.

EXAMPLE:
  settled income 10000 in 2023-01 and 5000 in 2023-03:
    2023-01  open     0  in 10000  out 0  close 10000
    2023-02  open 10000  in     0  out 0  close 10000
    2023-03  open 10000  in  5000  out 0  close 15000

VALIDATION:
  ValidateContinuity re-checks any sequence (e.g. sheets read back from a
  cache) and returns every break, not just the first. Breaks are data for
  the caller; nothing here tries to repair history. The first sheet's
  opening is not checked; opening[0] = 0 holds for Aggregate output only.
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ContinuityTolerance is the largest opening/closing mismatch accepted.
var ContinuityTolerance = decimal.RequireFromString("0.01")

type monthTotals struct {
	income   decimal.Decimal
	expenses decimal.Decimal
}

// Aggregate returns one sheet per month, ascending, from the earliest to
// the latest month with a settled payment. Payments without a valid
// month are skipped.
func Aggregate(payments []Payment) []AggregatedSheet {
	buckets := make(map[MonthYear]monthTotals)
	var first, last MonthYear
	for _, p := range payments {
		if !p.IsSettled() || !p.MonthYear.Valid() {
			continue
		}
		t := buckets[p.MonthYear]
		if p.IsExpense() {
			t.expenses = t.expenses.Add(p.Amount)
		} else {
			t.income = t.income.Add(p.Amount)
		}
		buckets[p.MonthYear] = t

		if first == "" || p.MonthYear.Before(first) {
			first = p.MonthYear
		}
		if last == "" || p.MonthYear.After(last) {
			last = p.MonthYear
		}
	}
	if len(buckets) == 0 {
		return []AggregatedSheet{}
	}

	months := MonthRange(first, last)
	sheets := make([]AggregatedSheet, 0, len(months))
	opening := decimal.Zero
	for _, m := range months {
		t := buckets[m]
		closing := opening.Add(t.income).Sub(t.expenses)
		sheets = append(sheets, AggregatedSheet{
			MonthYear: m,
			Opening:   opening,
			Income:    t.income,
			Expenses:  t.expenses,
			Closing:   closing,
		})
		opening = closing
	}
	return sheets
}

// ValidateContinuity checks that every sheet opens where the previous one
// closed, within ContinuityTolerance. Input is sorted by month first (on a
// copy). All violations are returned.
//
// Only links between consecutive sheets are checked. The earliest sheet has
// no predecessor, so its opening is never reported: a window of sheets read
// back from storage may start at any balance.
func ValidateContinuity(sheets []AggregatedSheet) []ContinuityError {
	sorted := make([]AggregatedSheet, len(sheets))
	copy(sorted, sheets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MonthYear < sorted[j].MonthYear
	})

	var errs []ContinuityError
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Opening.Sub(prev.Closing).Abs().GreaterThan(ContinuityTolerance) {
			errs = append(errs, ContinuityError{
				MonthYear:       cur.MonthYear,
				PreviousMonth:   prev.MonthYear,
				ExpectedOpening: prev.Closing,
				ActualOpening:   cur.Opening,
			})
		}
	}
	return errs
}
