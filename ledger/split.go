package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SPLIT CALCULATOR - Expense -> per-apartment monthly deltas
// =============================================================================

// SplitCalculator applies the registry's chosen strategy to expenses.
type SplitCalculator struct {
	Registry *Registry
}

func NewSplitCalculator(registry *Registry) *SplitCalculator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &SplitCalculator{Registry: registry}
}

// Calculate splits a single expense with the strategy resolved for it.
func (c *SplitCalculator) Calculate(expense Expense) SplitResult {
	result := c.Registry.Resolve(expense).CalculateDeltas(expense)
	if result.Deltas == nil {
		result.Deltas = make(map[ApartmentID]ApartmentDelta)
	}
	if result.MonthYear == "" {
		result.MonthYear = expense.MonthYear()
	}
	return result
}

type ledgerKey struct {
	ApartmentID ApartmentID
	MonthYear   MonthYear
}

// MonthlyDeltas splits every expense and merges the results into one
// PaymentDelta per (apartment, month). Output is sorted by month, then
// apartment; entries that net to zero are dropped.
func (c *SplitCalculator) MonthlyDeltas(expenses []Expense) []PaymentDelta {
	merged := make(map[ledgerKey]ApartmentDelta)
	for _, expense := range expenses {
		result := c.Calculate(expense)
		for id, d := range result.Deltas {
			k := ledgerKey{ApartmentID: id, MonthYear: result.MonthYear}
			merged[k] = merged[k].Add(d)
		}
	}

	out := make([]PaymentDelta, 0, len(merged))
	for k, d := range merged {
		delta := PaymentDelta{
			ApartmentID:        k.ApartmentID,
			MonthYear:          k.MonthYear,
			TotalIncomeDelta:   d.IncomeDelta,
			TotalExpensesDelta: d.ExpenseDelta,
		}
		if delta.IsZero() {
			continue
		}
		out = append(out, delta)
	}
	sortDeltas(out)
	return out
}

func sortDeltas(deltas []PaymentDelta) {
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].MonthYear != deltas[j].MonthYear {
			return deltas[i].MonthYear < deltas[j].MonthYear
		}
		return deltas[i].ApartmentID < deltas[j].ApartmentID
	})
}

// sum is a small helper over decimal map values.
func sum(values map[ApartmentID]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
