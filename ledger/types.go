/*
Package ledger provides the ledger reconciliation engine for a shared property.

PURPOSE:
  This package contains the records and pure computations behind the
  apartment ledger: how a shared expense is split, what every apartment
  owes or is owed, what a payment status change does to the running
  monthly totals, how settled payments roll up into monthly balance
  sheets, and when recurring maintenance fees must be generated.

KEY CONCEPTS IN THIS FILE (types.go):
  - Apartment, Category, Expense, Payment: stored records (input)
  - ApartmentBalance, PaymentDelta, AggregatedSheet: derived records (output)
  - LedgerTotal: the running per-apartment, per-month cell deltas apply to

DESIGN PRINCIPLES:
  1. Purity: engine functions never mutate their inputs, outputs are fresh
  2. Precision: money is decimal.Decimal, never float64
  3. Explicit optionals: NullDecimal, pointers and empty-string sentinels
     instead of loosely shaped maps
  4. Recompute, don't drift: balances and sheets are always rebuilt from
     the stored records

USAGE:
  balances := ledger.ComputeBalances(expenses, apartments)
  deltas := ledger.ComputeDelta(&before, &after)
  sheets := ledger.Aggregate(payments)

SEE ALSO:
  - strategy.go: split strategies and the registry
  - balance.go: per-apartment balances and pairwise debts
  - delta.go: payment status transition deltas
  - sheet.go: monthly balance sheets and continuity checks
  - scheduler.go: recurring payment event generation
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ApartmentID string
type CategoryID string
type ExpenseID string
type PaymentID string

// =============================================================================
// APARTMENT & CATEGORY
// =============================================================================

// Apartment is the atomic party in every ledger relationship.
// Its ID must not change once financial records reference it.
type Apartment struct {
	ID   ApartmentID `json:"id" validate:"required"`
	Name string      `json:"name" validate:"required"`
}

// Category groups expenses and, for payment events, configures the
// recurring monthly obligation that the scheduler generates.
type Category struct {
	ID             CategoryID          `json:"id" validate:"required"`
	Name           string              `json:"name" validate:"required"`
	IsPaymentEvent bool                `json:"is_payment_event"`
	AutoGenerate   bool                `json:"auto_generate"`
	MonthlyAmount  decimal.NullDecimal `json:"monthly_amount"`
	DayOfMonth     *int                `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=28"`
}

// GenerationDay returns the configured day of month, defaulting to 1.
func (c Category) GenerationDay() int {
	if c.DayOfMonth == nil || *c.DayOfMonth < 1 {
		return 1
	}
	return *c.DayOfMonth
}

// =============================================================================
// EXPENSE
// =============================================================================

// Expense is a shared cost fronted by one apartment and owed by several.
//
// PaidByApartments lists the owing apartments that already settled their
// share directly with the payer; it is always a subset of OwedByApartments.
type Expense struct {
	ID                ExpenseID       `json:"id" validate:"required"`
	Description       string          `json:"description,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Date              time.Time       `json:"date" validate:"required"`
	CategoryID        CategoryID      `json:"category_id"`
	PaidByApartment   ApartmentID     `json:"paid_by_apartment" validate:"required"`
	OwedByApartments  []ApartmentID   `json:"owed_by_apartments" validate:"required,min=1,dive,required"`
	PerApartmentShare decimal.Decimal `json:"per_apartment_share"`
	PaidByApartments  []ApartmentID   `json:"paid_by_apartments" validate:"dive,required"`
}

// MonthYear returns the ledger month the expense is booked in.
func (e Expense) MonthYear() MonthYear {
	return MonthOf(e.Date)
}

// UnpaidApartments returns the apartments that still owe the payer a share:
// owed minus already paid minus the payer itself. Order follows
// OwedByApartments and duplicates are dropped.
func UnpaidApartments(e Expense) []ApartmentID {
	paid := make(map[ApartmentID]bool, len(e.PaidByApartments)+1)
	for _, id := range e.PaidByApartments {
		paid[id] = true
	}
	paid[e.PaidByApartment] = true

	var unpaid []ApartmentID
	for _, id := range e.OwedByApartments {
		if paid[id] {
			continue
		}
		paid[id] = true
		unpaid = append(unpaid, id)
	}
	return unpaid
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusApproved PaymentStatus = "approved"
	StatusPaid     PaymentStatus = "paid"
	StatusRejected PaymentStatus = "rejected"
)

// ParsePaymentStatus normalizes a status string. Unknown values are rejected.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch status := PaymentStatus(strings.ToLower(strings.TrimSpace(s))); status {
	case StatusPending, StatusApproved, StatusPaid, StatusRejected:
		return status, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Is compares statuses case-insensitively.
func (s PaymentStatus) Is(other PaymentStatus) bool {
	return strings.EqualFold(string(s), string(other))
}

type PaymentCategory string

const (
	CategoryIncome  PaymentCategory = "income"
	CategoryExpense PaymentCategory = "expense"
)

// Payment is a single money movement booked against an apartment and month.
//
// Category may be empty; see EffectiveCategory. ExpenseID is empty for
// payments that are not tied to an expense (e.g. maintenance fees).
type Payment struct {
	ID          PaymentID       `json:"id" validate:"required"`
	PayerID     string          `json:"payer_id"`
	PayeeID     string          `json:"payee_id,omitempty"`
	ApartmentID ApartmentID     `json:"apartment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status" validate:"required,oneof=pending approved paid rejected"`
	Category    PaymentCategory `json:"category,omitempty" validate:"omitempty,oneof=income expense"`
	MonthYear   MonthYear       `json:"month_year" validate:"required,monthyear"`
	Reason      string          `json:"reason,omitempty"`
	ExpenseID   ExpenseID       `json:"expense_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EffectiveCategory returns the explicit category, or expense when the
// payment references an expense, or income otherwise.
func (p Payment) EffectiveCategory() PaymentCategory {
	switch {
	case p.Category != "":
		return p.Category
	case p.ExpenseID != "":
		return CategoryExpense
	default:
		return CategoryIncome
	}
}

// IsExpense reports whether the payment lands on the expense side of the ledger.
func (p Payment) IsExpense() bool {
	return strings.EqualFold(string(p.EffectiveCategory()), string(CategoryExpense))
}

// IsSettled reports whether the payment counts toward aggregated totals.
func (p Payment) IsSettled() bool {
	return p.Status.Is(StatusApproved) || p.Status.Is(StatusPaid)
}

// LedgerApartment returns the apartment whose ledger the payment is booked
// against, falling back to the payer.
func (p Payment) LedgerApartment() ApartmentID {
	if p.ApartmentID != "" {
		return p.ApartmentID
	}
	return ApartmentID(p.PayerID)
}

// =============================================================================
// DERIVED RECORDS
// =============================================================================

// ApartmentBalance is a point-in-time view of one apartment's position.
// Balance = sum(IsOwed) - sum(Owes). Positive means others owe this apartment.
type ApartmentBalance struct {
	Name    string                          `json:"name"`
	Balance decimal.Decimal                 `json:"balance"`
	Owes    map[ApartmentID]decimal.Decimal `json:"owes"`
	IsOwed  map[ApartmentID]decimal.Decimal `json:"is_owed"`
}

// PaymentDelta is a signed change to apply to a running ledger total.
type PaymentDelta struct {
	ApartmentID        ApartmentID     `json:"apartment_id"`
	MonthYear          MonthYear       `json:"month_year"`
	TotalIncomeDelta   decimal.Decimal `json:"total_income_delta"`
	TotalExpensesDelta decimal.Decimal `json:"total_expenses_delta"`
}

// IsZero reports whether applying the delta would change nothing.
func (d PaymentDelta) IsZero() bool {
	return d.TotalIncomeDelta.IsZero() && d.TotalExpensesDelta.IsZero()
}

// LedgerTotal is the running per-apartment, per-month total that
// PaymentDeltas are applied to by the persistence layer.
type LedgerTotal struct {
	ApartmentID   ApartmentID     `json:"apartment_id"`
	MonthYear     MonthYear       `json:"month_year"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
}

// Apply returns the total after adding the delta.
func (t LedgerTotal) Apply(d PaymentDelta) LedgerTotal {
	t.TotalIncome = t.TotalIncome.Add(d.TotalIncomeDelta)
	t.TotalExpenses = t.TotalExpenses.Add(d.TotalExpensesDelta)
	return t
}

// AggregatedSheet is one month of the property's balance sheet.
// Closing = Opening + Income - Expenses.
type AggregatedSheet struct {
	MonthYear MonthYear       `json:"month_year"`
	Opening   decimal.Decimal `json:"opening"`
	Income    decimal.Decimal `json:"income"`
	Expenses  decimal.Decimal `json:"expenses"`
	Closing   decimal.Decimal `json:"closing"`
}
