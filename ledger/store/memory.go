// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/apartment-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	apartments map[ledger.ApartmentID]ledger.Apartment
	categories map[ledger.CategoryID]ledger.Category
	expenses   map[ledger.ExpenseID]ledger.Expense
	payments   map[ledger.PaymentID]ledger.Payment
	totals     map[totalKey]ledger.LedgerTotal
	runs       []ledger.GenerationRun

	// insertion order, so List* is stable
	apartmentOrder []ledger.ApartmentID
	categoryOrder  []ledger.CategoryID
	expenseOrder   []ledger.ExpenseID
	paymentOrder   []ledger.PaymentID
}

type totalKey struct {
	ApartmentID ledger.ApartmentID
	MonthYear   ledger.MonthYear
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		apartments: make(map[ledger.ApartmentID]ledger.Apartment),
		categories: make(map[ledger.CategoryID]ledger.Category),
		expenses:   make(map[ledger.ExpenseID]ledger.Expense),
		payments:   make(map[ledger.PaymentID]ledger.Payment),
		totals:     make(map[totalKey]ledger.LedgerTotal),
	}
}

// =============================================================================
// APARTMENTS & CATEGORIES
// =============================================================================

func (m *Memory) SaveApartment(_ context.Context, a ledger.Apartment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apartments[a.ID]; !ok {
		m.apartmentOrder = append(m.apartmentOrder, a.ID)
	}
	m.apartments[a.ID] = a
	return nil
}

func (m *Memory) ListApartments(_ context.Context) ([]ledger.Apartment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Apartment, 0, len(m.apartmentOrder))
	for _, id := range m.apartmentOrder {
		out = append(out, m.apartments[id])
	}
	return out, nil
}

func (m *Memory) SaveCategory(_ context.Context, c ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		m.categoryOrder = append(m.categoryOrder, c.ID)
	}
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) ListCategories(_ context.Context) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Category, 0, len(m.categoryOrder))
	for _, id := range m.categoryOrder {
		out = append(out, m.categories[id])
	}
	return out, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Memory) GetExpense(_ context.Context, id ledger.ExpenseID) (*ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.expenses[id]
	if !ok {
		return nil, nil
	}
	e = cloneExpense(e)
	return &e, nil
}

func (m *Memory) ListExpenses(_ context.Context) ([]ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Expense, 0, len(m.expenseOrder))
	for _, id := range m.expenseOrder {
		out = append(out, cloneExpense(m.expenses[id]))
	}
	return out, nil
}

// SaveExpense inserts or replaces an expense.
func (m *Memory) SaveExpense(_ context.Context, e ledger.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.expenses[e.ID]; !ok {
		m.expenseOrder = append(m.expenseOrder, e.ID)
	}
	m.expenses[e.ID] = cloneExpense(e)
	return nil
}

func cloneExpense(e ledger.Expense) ledger.Expense {
	e.OwedByApartments = append([]ledger.ApartmentID(nil), e.OwedByApartments...)
	e.PaidByApartments = append([]ledger.ApartmentID(nil), e.PaidByApartments...)
	return e
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPaymentsByMonth(_ context.Context, month ledger.MonthYear) ([]ledger.Payment, error) {
	return m.filterPayments(func(p ledger.Payment) bool { return p.MonthYear == month }), nil
}

func (m *Memory) ListSettledPayments(_ context.Context) ([]ledger.Payment, error) {
	return m.filterPayments(ledger.Payment.IsSettled), nil
}

// ListPayments returns every payment in insertion order.
func (m *Memory) ListPayments(_ context.Context) ([]ledger.Payment, error) {
	return m.filterPayments(func(ledger.Payment) bool { return true }), nil
}

func (m *Memory) filterPayments(keep func(ledger.Payment) bool) []ledger.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Payment
	for _, id := range m.paymentOrder {
		if p := m.payments[id]; keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// SavePayments adds payments atomically. Check all IDs first, then write.
func (m *Memory) SavePayments(_ context.Context, payments []ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[ledger.PaymentID]bool, len(payments))
	for _, p := range payments {
		if _, ok := m.payments[p.ID]; ok || seen[p.ID] {
			return fmt.Errorf("%w: payment %s", ledger.ErrDuplicateRecord, p.ID)
		}
		seen[p.ID] = true
	}
	for _, p := range payments {
		m.payments[p.ID] = p
		m.paymentOrder = append(m.paymentOrder, p.ID)
	}
	return nil
}

// CreatePayment adds one payment and applies its deltas under one lock.
func (m *Memory) CreatePayment(_ context.Context, p ledger.Payment, deltas []ledger.PaymentDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return fmt.Errorf("%w: payment %s", ledger.ErrDuplicateRecord, p.ID)
	}
	m.payments[p.ID] = p
	m.paymentOrder = append(m.paymentOrder, p.ID)
	m.applyLocked(deltas)
	return nil
}

// TransitionPayment runs fn on the stored payment and writes its result
// under the same lock, so fn always sees the latest status.
func (m *Memory) TransitionPayment(_ context.Context, id ledger.PaymentID, fn ledger.TransitionFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.payments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrPaymentNotFound, id)
	}
	updated, deltas, err := fn(current)
	if err != nil {
		return err
	}
	if updated.ID != id {
		return fmt.Errorf("%w: transition changed payment id %s to %s", ledger.ErrInvalidRecord, id, updated.ID)
	}
	m.payments[id] = updated
	m.applyLocked(deltas)
	return nil
}

// =============================================================================
// LEDGER TOTALS
// =============================================================================

func (m *Memory) ApplyDeltas(_ context.Context, deltas []ledger.PaymentDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(deltas)
	return nil
}

func (m *Memory) applyLocked(deltas []ledger.PaymentDelta) {
	for _, d := range deltas {
		k := totalKey{ApartmentID: d.ApartmentID, MonthYear: d.MonthYear}
		t, ok := m.totals[k]
		if !ok {
			t = ledger.LedgerTotal{ApartmentID: d.ApartmentID, MonthYear: d.MonthYear}
		}
		m.totals[k] = t.Apply(d)
	}
}

// LedgerTotals returns the running totals for a month, or for every month
// when month is empty. Sorted by month, then apartment.
func (m *Memory) LedgerTotals(_ context.Context, month ledger.MonthYear) ([]ledger.LedgerTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.LedgerTotal
	for k, t := range m.totals {
		if month != "" && k.MonthYear != month {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthYear != out[j].MonthYear {
			return out[i].MonthYear < out[j].MonthYear
		}
		return out[i].ApartmentID < out[j].ApartmentID
	})
	return out, nil
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

func (m *Memory) RecordRun(_ context.Context, run ledger.GenerationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]ledger.GenerationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.GenerationRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
