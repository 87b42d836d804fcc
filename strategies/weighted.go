/*
Package strategies provides split strategies beyond the standard equal share.

PURPOSE:
  Some shared costs are not split evenly. The elevator is used more by the
  top floors; the ground floor is exempt from it entirely. These strategies
  plug into ledger.Registry for the categories they are configured for and
  leave every other expense to the standard strategy.

AVAILABLE STRATEGIES:
  Weighted:
    - Each owing apartment pays Amount * weight / sum(weights)
    - Missing weights default to 1
    - Shares are rounded to cents; the payer is credited the sum of the
      rounded unpaid shares, so the split stays zero-sum

  Exempt:
    - Listed apartments never owe for the configured categories
    - Everyone else splits with the standard per-apartment share

EXAMPLE:
  registry := ledger.NewRegistry(
      strategies.NewWeighted("by-floor", []ledger.CategoryID{"elevator"},
          map[ledger.ApartmentID]decimal.Decimal{"apt-3": decimal.NewFromInt(2)}),
  )

SEE ALSO:
  - ledger/strategy.go: Strategy interface and resolution order
  - factory/strategy.go: builds these from JSON
*/
package strategies

import (
	"github.com/shopspring/decimal"
	"github.com/warp/apartment-ledger/ledger"
)

// centPlaces is the rounding precision of computed shares.
const centPlaces = 2

var one = decimal.NewFromInt(1)

// categorySet is the CanHandle filter shared by the strategies here.
type categorySet map[ledger.CategoryID]bool

func newCategorySet(ids []ledger.CategoryID) categorySet {
	set := make(categorySet, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (s categorySet) has(id ledger.CategoryID) bool { return s[id] }

// =============================================================================
// WEIGHTED
// =============================================================================

type Weighted struct {
	name       string
	categories categorySet
	weights    map[ledger.ApartmentID]decimal.Decimal
}

func NewWeighted(name string, categories []ledger.CategoryID, weights map[ledger.ApartmentID]decimal.Decimal) *Weighted {
	w := make(map[ledger.ApartmentID]decimal.Decimal, len(weights))
	for id, v := range weights {
		w[id] = v
	}
	return &Weighted{name: name, categories: newCategorySet(categories), weights: w}
}

func (s *Weighted) Name() string { return s.name }

func (s *Weighted) CanHandle(expense ledger.Expense) bool {
	return s.categories.has(expense.CategoryID)
}

// Weight returns the apartment's weight, 1 when not configured.
func (s *Weighted) Weight(id ledger.ApartmentID) decimal.Decimal {
	if w, ok := s.weights[id]; ok {
		return w
	}
	return one
}

// Shares returns every owing apartment's share of the expense amount.
func (s *Weighted) Shares(expense ledger.Expense) map[ledger.ApartmentID]decimal.Decimal {
	owed := dedupe(expense.OwedByApartments)
	total := decimal.Zero
	for _, id := range owed {
		total = total.Add(s.Weight(id))
	}

	shares := make(map[ledger.ApartmentID]decimal.Decimal, len(owed))
	if !total.IsPositive() {
		return shares
	}
	for _, id := range owed {
		shares[id] = expense.Amount.Mul(s.Weight(id)).Div(total).Round(centPlaces)
	}
	return shares
}

func (s *Weighted) CalculateDeltas(expense ledger.Expense) ledger.SplitResult {
	result := ledger.SplitResult{
		Strategy:  s.name,
		MonthYear: expense.MonthYear(),
		Deltas:    make(map[ledger.ApartmentID]ledger.ApartmentDelta),
	}

	shares := s.Shares(expense)
	credit := decimal.Zero
	for _, id := range ledger.UnpaidApartments(expense) {
		share := shares[id]
		if share.IsZero() {
			continue
		}
		credit = credit.Add(share)
		result.Deltas[id] = result.Deltas[id].Add(ledger.ApartmentDelta{ExpenseDelta: share})
	}
	if !credit.IsZero() {
		payer := expense.PaidByApartment
		result.Deltas[payer] = result.Deltas[payer].Add(ledger.ApartmentDelta{IncomeDelta: credit})
	}
	return result
}

func dedupe(ids []ledger.ApartmentID) []ledger.ApartmentID {
	seen := make(map[ledger.ApartmentID]bool, len(ids))
	var out []ledger.ApartmentID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
