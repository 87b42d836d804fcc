/*
store.go - Persistence collaborator interfaces

PURPOSE:
  Defines what the engine needs from storage without knowing how it is
  stored. The pure calculators take slices; the Service and the
  PaymentEventScheduler load those slices through these interfaces.

CONTRACT:
  - Get* return (nil, nil) when the record does not exist
  - List* return records in a stable order (by id or creation)
  - TransitionPayment reads the stored payment, hands it to the caller's
    TransitionFunc and writes the result AND its deltas atomically, all
    while holding the payment. The payment must already exist
    (ErrPaymentNotFound)
  - CreatePayment inserts one payment and applies its deltas atomically
  - SavePayments is all-or-nothing

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and development
  - store/sqlstore: SQLite / PostgreSQL via database/sql
*/
package ledger

import "context"

// ApartmentReader lists the apartments of the property.
type ApartmentReader interface {
	ListApartments(ctx context.Context) ([]Apartment, error)
}

// ApartmentStore reads and upserts apartments.
type ApartmentStore interface {
	ApartmentReader
	SaveApartment(ctx context.Context, apartment Apartment) error
}

// CategoryReader lists expense and payment-event categories.
type CategoryReader interface {
	ListCategories(ctx context.Context) ([]Category, error)
}

// CategoryStore reads and upserts categories.
type CategoryStore interface {
	CategoryReader
	SaveCategory(ctx context.Context, category Category) error
}

// ExpenseStore reads and writes expenses.
type ExpenseStore interface {
	GetExpense(ctx context.Context, id ExpenseID) (*Expense, error)
	ListExpenses(ctx context.Context) ([]Expense, error)
	SaveExpense(ctx context.Context, expense Expense) error
}

// PaymentStore reads and writes payments.
type PaymentStore interface {
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context) ([]Payment, error)
	ListPaymentsByMonth(ctx context.Context, month MonthYear) ([]Payment, error)
	ListSettledPayments(ctx context.Context) ([]Payment, error)

	// SavePayments persists new payments atomically. A payment whose ID
	// already exists fails the whole batch with ErrDuplicateRecord.
	SavePayments(ctx context.Context, payments []Payment) error

	// CreatePayment inserts a new payment and applies deltas to the running
	// ledger totals in one atomic write.
	CreatePayment(ctx context.Context, payment Payment, deltas []PaymentDelta) error

	// TransitionPayment loads the payment, passes it to fn and stores the
	// returned payment and deltas in one atomic write. No other transition
	// of the same payment can interleave between the read and the write.
	TransitionPayment(ctx context.Context, id PaymentID, fn TransitionFunc) error
}

// TransitionFunc derives the updated payment and the deltas it causes from
// the payment as currently stored.
type TransitionFunc func(current Payment) (Payment, []PaymentDelta, error)

// LedgerTotals reads and updates the running per-apartment monthly totals.
type LedgerTotals interface {
	ApplyDeltas(ctx context.Context, deltas []PaymentDelta) error
	LedgerTotals(ctx context.Context, month MonthYear) ([]LedgerTotal, error)
}

// RunRecorder keeps the audit trail of scheduler passes.
type RunRecorder interface {
	RecordRun(ctx context.Context, run GenerationRun) error
	ListRuns(ctx context.Context, limit int) ([]GenerationRun, error)
}

// Store is everything the Service and the scheduler need.
type Store interface {
	ApartmentStore
	CategoryStore
	ExpenseStore
	PaymentStore
	LedgerTotals
	RunRecorder
}
