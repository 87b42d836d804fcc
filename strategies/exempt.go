package strategies

import (
	"github.com/warp/apartment-ledger/ledger"
)

// =============================================================================
// EXEMPT
// =============================================================================

// Exempt removes the listed apartments from the owed list of matching
// expenses and splits the rest with the standard strategy.
type Exempt struct {
	name       string
	categories categorySet
	exempt     map[ledger.ApartmentID]bool
}

func NewExempt(name string, categories []ledger.CategoryID, exempt []ledger.ApartmentID) *Exempt {
	set := make(map[ledger.ApartmentID]bool, len(exempt))
	for _, id := range exempt {
		set[id] = true
	}
	return &Exempt{name: name, categories: newCategorySet(categories), exempt: set}
}

func (s *Exempt) Name() string { return s.name }

func (s *Exempt) CanHandle(expense ledger.Expense) bool {
	return s.categories.has(expense.CategoryID)
}

func (s *Exempt) IsExempt(id ledger.ApartmentID) bool { return s.exempt[id] }

func (s *Exempt) CalculateDeltas(expense ledger.Expense) ledger.SplitResult {
	narrowed := expense
	narrowed.OwedByApartments = nil
	for _, id := range expense.OwedByApartments {
		if !s.exempt[id] {
			narrowed.OwedByApartments = append(narrowed.OwedByApartments, id)
		}
	}

	result := ledger.StandardStrategy{}.CalculateDeltas(narrowed)
	result.Strategy = s.name
	return result
}
