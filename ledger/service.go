/*
service.go - Engine orchestration over a Store

PURPOSE:
  The calculators are pure and take slices. Service loads those slices
  from a Store, runs the calculator and, for payment transitions, writes
  the result back.

OPERATIONS:
  Balances          expenses + apartments -> ComputeBalances
  MonthlyDeltas     expenses -> SplitCalculator.MonthlyDeltas
  RecordPayment     new payment + its own deltas -> Store (atomic)
  TransitionPayment payment + new status -> ComputeDelta -> Store (atomic)
  BalanceSheets     settled payments -> Aggregate -> ValidateContinuity
  SettleShare       marks one apartment's share of an expense as paid

TRANSITION FLOW:
  1. Parse the new status (ErrInvalidStatus)
  2. Store.TransitionPayment locks the payment (ErrPaymentNotFound if
     missing) and calls back with the stored copy
  3. deltas = ComputeDelta(stored, new), inside the callback
  4. The store writes payment and deltas, both or neither

  The delta is always computed against the stored status, so concurrent
  approvals of one payment count it once.

  A transition to the same status produces no deltas but is still stored,
  so the call is safe to repeat.
*/
package ledger

import (
	"context"
	"fmt"
	"slices"
)

type Service struct {
	Store  Store
	Splits *SplitCalculator
}

func NewService(store Store, splits *SplitCalculator) *Service {
	if splits == nil {
		splits = NewSplitCalculator(nil)
	}
	return &Service{Store: store, Splits: splits}
}

// TransitionResult describes a stored status change.
type TransitionResult struct {
	Old    Payment        `json:"old"`
	New    Payment        `json:"new"`
	Deltas []PaymentDelta `json:"deltas"`
}

// SheetReport is the aggregated balance sheet plus any continuity breaks.
type SheetReport struct {
	Sheets           []AggregatedSheet `json:"sheets"`
	ContinuityErrors []ContinuityError `json:"continuity_errors"`
}

// Balances recomputes every apartment's balance from the stored expenses.
func (s *Service) Balances(ctx context.Context) (map[ApartmentID]ApartmentBalance, error) {
	apartments, err := s.Store.ListApartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list apartments: %w", err)
	}
	expenses, err := s.Store.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return ComputeBalances(expenses, apartments), nil
}

// MonthlyDeltas returns the merged split deltas of every stored expense.
func (s *Service) MonthlyDeltas(ctx context.Context) ([]PaymentDelta, error) {
	expenses, err := s.Store.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return s.Splits.MonthlyDeltas(expenses), nil
}

// Split runs the split calculator for a single stored expense.
func (s *Service) Split(ctx context.Context, id ExpenseID) (SplitResult, error) {
	expense, err := s.expense(ctx, id)
	if err != nil {
		return SplitResult{}, err
	}
	return s.Splits.Calculate(*expense), nil
}

// RecordPayment stores a new payment. A payment created already approved
// lands in the ledger totals right away.
func (s *Service) RecordPayment(ctx context.Context, p Payment) (Payment, error) {
	status, err := ParsePaymentStatus(string(p.Status))
	if err != nil {
		return Payment{}, fmt.Errorf("%w: %q", err, p.Status)
	}
	p.Status = status
	if err := ValidatePayment(p); err != nil {
		return Payment{}, err
	}
	if err := s.Store.CreatePayment(ctx, p, ComputeDelta(nil, &p)); err != nil {
		return Payment{}, fmt.Errorf("save payment %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *Service) TransitionPayment(ctx context.Context, id PaymentID, status string) (TransitionResult, error) {
	newStatus, err := ParsePaymentStatus(status)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%w: %q", err, status)
	}

	var result TransitionResult
	err = s.Store.TransitionPayment(ctx, id, func(current Payment) (Payment, []PaymentDelta, error) {
		updated := current
		updated.Status = newStatus
		deltas := ComputeDelta(&current, &updated)
		result = TransitionResult{Old: current, New: updated, Deltas: deltas}
		return updated, deltas, nil
	})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition payment %s: %w", id, err)
	}
	return result, nil
}

func (s *Service) BalanceSheets(ctx context.Context) (SheetReport, error) {
	payments, err := s.Store.ListSettledPayments(ctx)
	if err != nil {
		return SheetReport{}, fmt.Errorf("list settled payments: %w", err)
	}
	sheets := Aggregate(payments)
	errs := ValidateContinuity(sheets)
	if errs == nil {
		errs = []ContinuityError{}
	}
	return SheetReport{Sheets: sheets, ContinuityErrors: errs}, nil
}

// SettleShare records that apartment paid its share of the expense directly
// to the payer. Settling an already settled share changes nothing.
func (s *Service) SettleShare(ctx context.Context, expenseID ExpenseID, apartment ApartmentID) (Expense, error) {
	expense, err := s.expense(ctx, expenseID)
	if err != nil {
		return Expense{}, err
	}
	if !slices.Contains(expense.OwedByApartments, apartment) {
		return Expense{}, fmt.Errorf("%w: %s on expense %s", ErrApartmentNotOwed, apartment, expenseID)
	}
	if slices.Contains(expense.PaidByApartments, apartment) {
		return *expense, nil
	}

	updated := *expense
	updated.PaidByApartments = append(slices.Clone(expense.PaidByApartments), apartment)
	if err := s.Store.SaveExpense(ctx, updated); err != nil {
		return Expense{}, fmt.Errorf("save expense %s: %w", expenseID, err)
	}
	return updated, nil
}

func (s *Service) expense(ctx context.Context, id ExpenseID) (*Expense, error) {
	expense, err := s.Store.GetExpense(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get expense %s: %w", id, err)
	}
	if expense == nil {
		return nil, fmt.Errorf("%w: %s", ErrExpenseNotFound, id)
	}
	return expense, nil
}
