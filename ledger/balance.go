/*
balance.go - Per-apartment balances and pairwise debts

PURPOSE:
  Answers "who owes whom, and how much?" for the whole property at the
  current point in time.

KEY INSIGHT:
  Balances are recomputed from the full expense list on every call. There
  is no stored balance that could drift from the expenses it summarizes.

ALGORITHM (single pass, order independent):
  1. Zeroed balance for every known apartment
  2. For each expense, unpaid = owedBy - paidBy - {payer}; skip if empty
  3. Payer:   balance += share * |unpaid|, isOwed[u] += share
  4. Unpaid:  balance -= share,            owes[payer] += share

INPUT TOLERANCE:
  An apartment referenced by an expense but missing from the apartment
  list is skipped for its side of the entry. This keeps the engine
  resilient to referential drift; it does not make the result correct
  for that apartment.

STRATEGIES:
  Balances never consult the strategy Registry. They settle what each
  apartment owes from the stored PerApartmentShare, while a registered
  strategy (weighted, exempt) only shapes SplitCalculator's per-month
  allocation. For those categories the two views differ, and the share
  stored on the expense is what is owed.

SEE ALSO:
  - strategy.go: the same unpaid set drives StandardStrategy
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE CALCULATOR
// =============================================================================

// ComputeBalances returns one ApartmentBalance per apartment. The result
// does not depend on the order of expenses.
func ComputeBalances(expenses []Expense, apartments []Apartment) map[ApartmentID]ApartmentBalance {
	balances := make(map[ApartmentID]*ApartmentBalance, len(apartments))
	for _, apt := range apartments {
		balances[apt.ID] = &ApartmentBalance{
			Name:    apt.Name,
			Balance: decimal.Zero,
			Owes:    make(map[ApartmentID]decimal.Decimal),
			IsOwed:  make(map[ApartmentID]decimal.Decimal),
		}
	}

	for _, expense := range expenses {
		unpaid := UnpaidApartments(expense)
		if len(unpaid) == 0 {
			continue
		}
		share := expense.PerApartmentShare
		payerID := expense.PaidByApartment

		if payer, ok := balances[payerID]; ok {
			payer.Balance = payer.Balance.Add(share.Mul(decimal.NewFromInt(int64(len(unpaid)))))
			for _, id := range unpaid {
				payer.IsOwed[id] = payer.IsOwed[id].Add(share)
			}
		}

		for _, id := range unpaid {
			debtor, ok := balances[id]
			if !ok {
				continue
			}
			debtor.Balance = debtor.Balance.Sub(share)
			debtor.Owes[payerID] = debtor.Owes[payerID].Add(share)
		}
	}

	out := make(map[ApartmentID]ApartmentBalance, len(balances))
	for id, b := range balances {
		out[id] = *b
	}
	return out
}

// TotalOwes returns the sum of everything the apartment owes.
func (b ApartmentBalance) TotalOwes() decimal.Decimal { return sum(b.Owes) }

// TotalIsOwed returns the sum of everything owed to the apartment.
func (b ApartmentBalance) TotalIsOwed() decimal.Decimal { return sum(b.IsOwed) }

// NetPosition returns IsOwed minus Owes. Equal to Balance for any balance
// produced by ComputeBalances.
func (b ApartmentBalance) NetPosition() decimal.Decimal {
	return b.TotalIsOwed().Sub(b.TotalOwes())
}

// =============================================================================
// SETTLEMENT SUGGESTIONS - Reporting helper
// =============================================================================

// Settlement is a suggested transfer that moves both parties toward zero.
type Settlement struct {
	From   ApartmentID     `json:"from"`
	To     ApartmentID     `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type position struct {
	id     ApartmentID
	amount decimal.Decimal
}

// SuggestSettlements greedily matches the largest debtor with the largest
// creditor until every net balance is zero. Ties break by apartment ID so
// the output is deterministic.
func SuggestSettlements(balances map[ApartmentID]ApartmentBalance) []Settlement {
	var debtors, creditors []position
	for id, b := range balances {
		switch {
		case b.Balance.IsNegative():
			debtors = append(debtors, position{id: id, amount: b.Balance.Neg()})
		case b.Balance.IsPositive():
			creditors = append(creditors, position{id: id, amount: b.Balance})
		}
	}
	sortPositions(debtors)
	sortPositions(creditors)

	var out []Settlement
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)
		out = append(out, Settlement{From: debtors[i].id, To: creditors[j].id, Amount: amount})

		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)
		if debtors[i].amount.IsZero() {
			i++
		}
		if creditors[j].amount.IsZero() {
			j++
		}
	}
	return out
}

func sortPositions(ps []position) {
	sort.Slice(ps, func(a, b int) bool {
		if !ps[a].amount.Equal(ps[b].amount) {
			return ps[a].amount.GreaterThan(ps[b].amount)
		}
		return ps[a].id < ps[b].id
	})
}
