/*
strategy.go - Pluggable expense split strategies

PURPOSE:
  A Strategy decides how one expense turns into per-apartment income and
  expense deltas. The Registry picks the strategy for each expense.

RESOLUTION ORDER:
  1. Custom strategies, newest registration first
  2. The first one whose CanHandle returns true wins
  3. StandardStrategy, registered first, handles everything else

  Registration is additive. Nothing is ever removed, and the standard
  strategy is never edited to add behavior: register a new one instead.

STANDARD SPLIT:
  unpaid = owedBy - paidBy - {payer}
  payer:          income  += share * |unpaid|
  each unpaid:    expense += share

  The payer is only credited for shares other apartments still owe, not
  for its own share. A resident does not owe itself.

EXAMPLE:
  amount=300, share=100, owedBy=[apt1 apt2 apt3], payer=apt1, paidBy=[]
  apt1: income +200
  apt2: expense +100
  apt3: expense +100

SEE ALSO:
  - strategies/: weighted and exempt strategies
  - factory/strategy.go: builds a Registry from JSON
*/
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STRATEGY
// =============================================================================

// ApartmentDelta is the change one expense makes to one apartment's month.
type ApartmentDelta struct {
	IncomeDelta  decimal.Decimal `json:"income_delta"`
	ExpenseDelta decimal.Decimal `json:"expense_delta"`
}

// Add returns the component-wise sum.
func (d ApartmentDelta) Add(o ApartmentDelta) ApartmentDelta {
	return ApartmentDelta{
		IncomeDelta:  d.IncomeDelta.Add(o.IncomeDelta),
		ExpenseDelta: d.ExpenseDelta.Add(o.ExpenseDelta),
	}
}

// SplitResult is the outcome of splitting one expense.
type SplitResult struct {
	Strategy  string                         `json:"strategy"`
	MonthYear MonthYear                      `json:"month_year"`
	Deltas    map[ApartmentID]ApartmentDelta `json:"deltas"`
}

// Strategy splits an expense into per-apartment deltas.
type Strategy interface {
	// Name identifies the strategy in logs and split results.
	Name() string

	// CanHandle reports whether this strategy applies to the expense.
	CanHandle(expense Expense) bool

	// CalculateDeltas returns the month and per-apartment deltas.
	// It must not mutate the expense.
	CalculateDeltas(expense Expense) SplitResult
}

// =============================================================================
// STANDARD STRATEGY - Equal per-apartment share, payer fronts the rest
// =============================================================================

const StandardStrategyName = "standard"

type StandardStrategy struct{}

func (StandardStrategy) Name() string              { return StandardStrategyName }
func (StandardStrategy) CanHandle(_ Expense) bool { return true }

func (s StandardStrategy) CalculateDeltas(expense Expense) SplitResult {
	result := SplitResult{
		Strategy:  s.Name(),
		MonthYear: expense.MonthYear(),
		Deltas:    make(map[ApartmentID]ApartmentDelta),
	}

	unpaid := UnpaidApartments(expense)
	if len(unpaid) == 0 {
		return result
	}

	share := expense.PerApartmentShare
	credit := share.Mul(decimal.NewFromInt(int64(len(unpaid))))
	result.Deltas[expense.PaidByApartment] = result.Deltas[expense.PaidByApartment].Add(ApartmentDelta{IncomeDelta: credit})
	for _, id := range unpaid {
		result.Deltas[id] = result.Deltas[id].Add(ApartmentDelta{ExpenseDelta: share})
	}
	return result
}

// =============================================================================
// REGISTRY - Ordered, constructor-injected strategy list
// =============================================================================

// Registry holds strategies in registration order. The standard strategy
// always sits at index 0.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewRegistry returns a registry seeded with StandardStrategy followed by
// the given custom strategies in order.
func NewRegistry(custom ...Strategy) *Registry {
	r := &Registry{strategies: []Strategy{StandardStrategy{}}}
	for _, s := range custom {
		r.Register(s)
	}
	return r
}

// Register appends a strategy. Later registrations take precedence.
func (r *Registry) Register(s Strategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.strategies) == 0 {
		r.strategies = append(r.strategies, StandardStrategy{})
	}
	r.strategies = append(r.strategies, s)
}

// Resolve returns the most recently registered strategy that can handle
// the expense, falling back to the standard strategy.
func (r *Registry) Resolve(expense Expense) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.strategies) == 0 {
		return StandardStrategy{}
	}
	for i := len(r.strategies) - 1; i > 0; i-- {
		if r.strategies[i].CanHandle(expense) {
			return r.strategies[i]
		}
	}
	return r.strategies[0]
}

// Strategies returns a copy of the registered strategies, oldest first.
func (r *Registry) Strategies() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}
