/*
delta.go - Ledger deltas for payment status transitions

PURPOSE:
  When a payment moves between statuses (pending -> approved, approved ->
  rejected, ...) the running monthly totals must change by exactly the
  payment's effect, without recomputing the whole ledger.

RULES:
  - A payment counts only when its status is "approved" (any case) and it
    has a month and an apartment (ApartmentID, else PayerID)
  - Old payment counted -> reversing delta (amount negated)
  - New payment counted -> forward delta
  - Effective category picks the side: income, or expenses
  - Deltas for the same (apartment, month) are merged; zero results dropped

TWO STEPS:
  collectCandidates builds the raw reversing/forward entries, then
  mergeByKey sums entries per ledger cell. Keeping them apart makes the
  reversal property easy to test:

    ComputeDelta(a, b) + ComputeDelta(b, a) == 0 for every cell

EXAMPLE:
  approved 100 income apt1/2024-03 -> rejected
  => [{apt1 2024-03 income:-100 expenses:0}]

SEE ALSO:
  - service.go: TransitionPayment persists the deltas
  - store/sqlstore: ApplyDeltas on ledger_totals
*/
package ledger

import "github.com/shopspring/decimal"

// ComputeDelta returns the minimal set of ledger writes for a transition
// from oldPayment to newPayment. Either side may be nil (creation, deletion).
func ComputeDelta(oldPayment, newPayment *Payment) []PaymentDelta {
	return mergeByKey(collectCandidates(oldPayment, newPayment))
}

// countsTowardLedger reports whether the payment contributes to running totals.
func countsTowardLedger(p *Payment) bool {
	return p != nil &&
		p.Status.Is(StatusApproved) &&
		p.MonthYear != "" &&
		p.LedgerApartment() != ""
}

func collectCandidates(oldPayment, newPayment *Payment) []PaymentDelta {
	var candidates []PaymentDelta
	if countsTowardLedger(oldPayment) {
		candidates = append(candidates, paymentEffect(*oldPayment, oldPayment.Amount.Neg()))
	}
	if countsTowardLedger(newPayment) {
		candidates = append(candidates, paymentEffect(*newPayment, newPayment.Amount))
	}
	return candidates
}

func paymentEffect(p Payment, amount decimal.Decimal) PaymentDelta {
	d := PaymentDelta{
		ApartmentID:        p.LedgerApartment(),
		MonthYear:          p.MonthYear,
		TotalIncomeDelta:   decimal.Zero,
		TotalExpensesDelta: decimal.Zero,
	}
	if p.IsExpense() {
		d.TotalExpensesDelta = amount
	} else {
		d.TotalIncomeDelta = amount
	}
	return d
}

// mergeByKey sums candidates that target the same ledger cell, keeping
// first-seen order, and drops cells that net to zero.
func mergeByKey(candidates []PaymentDelta) []PaymentDelta {
	var order []ledgerKey
	merged := make(map[ledgerKey]PaymentDelta, len(candidates))
	for _, c := range candidates {
		k := ledgerKey{ApartmentID: c.ApartmentID, MonthYear: c.MonthYear}
		existing, ok := merged[k]
		if !ok {
			order = append(order, k)
			merged[k] = c
			continue
		}
		existing.TotalIncomeDelta = existing.TotalIncomeDelta.Add(c.TotalIncomeDelta)
		existing.TotalExpensesDelta = existing.TotalExpensesDelta.Add(c.TotalExpensesDelta)
		merged[k] = existing
	}

	out := make([]PaymentDelta, 0, len(order))
	for _, k := range order {
		if d := merged[k]; !d.IsZero() {
			out = append(out, d)
		}
	}
	return out
}

// NegateDeltas returns deltas that undo the given ones.
func NegateDeltas(deltas []PaymentDelta) []PaymentDelta {
	out := make([]PaymentDelta, len(deltas))
	for i, d := range deltas {
		out[i] = PaymentDelta{
			ApartmentID:        d.ApartmentID,
			MonthYear:          d.MonthYear,
			TotalIncomeDelta:   d.TotalIncomeDelta.Neg(),
			TotalExpensesDelta: d.TotalExpensesDelta.Neg(),
		}
	}
	return out
}

// SumDeltas folds any number of delta sets into one entry per cell, sorted
// by month then apartment. Zero cells are kept so callers can assert on them.
func SumDeltas(sets ...[]PaymentDelta) []PaymentDelta {
	out := make(map[ledgerKey]PaymentDelta)
	for _, set := range sets {
		for _, d := range set {
			k := ledgerKey{ApartmentID: d.ApartmentID, MonthYear: d.MonthYear}
			cur, ok := out[k]
			if !ok {
				cur = PaymentDelta{ApartmentID: d.ApartmentID, MonthYear: d.MonthYear}
			}
			cur.TotalIncomeDelta = cur.TotalIncomeDelta.Add(d.TotalIncomeDelta)
			cur.TotalExpensesDelta = cur.TotalExpensesDelta.Add(d.TotalExpensesDelta)
			out[k] = cur
		}
	}

	result := make([]PaymentDelta, 0, len(out))
	for _, d := range out {
		result = append(result, d)
	}
	sortDeltas(result)
	return result
}
