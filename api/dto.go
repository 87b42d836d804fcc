/*
dto.go - Request and response bodies for the ledger API

PURPOSE:
  Request types carry what a client may send; the handlers turn them into
  ledger records (IDs, defaults, dates). Ledger records are returned as-is
  since their JSON tags are already the public contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers that are not plain ledger records

DATES:
  Expense dates are "YYYY-MM-DD". Months are "YYYY-MM".

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Record JSON tags
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/apartment-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateApartmentRequest creates or renames an apartment. An empty ID
// gets a generated one.
type CreateApartmentRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreateCategoryRequest struct {
	ID             string           `json:"id,omitempty"`
	Name           string           `json:"name"`
	IsPaymentEvent bool             `json:"is_payment_event"`
	AutoGenerate   bool             `json:"auto_generate"`
	MonthlyAmount  *decimal.Decimal `json:"monthly_amount,omitempty"`
	DayOfMonth     *int             `json:"day_of_month,omitempty"`
}

// CreateExpenseRequest records a shared expense. PerApartmentShare
// defaults to Amount divided evenly over OwedByApartments.
type CreateExpenseRequest struct {
	ID                string           `json:"id,omitempty"`
	Description       string           `json:"description"`
	Amount            decimal.Decimal  `json:"amount"`
	Date              string           `json:"date"` // YYYY-MM-DD
	CategoryID        string           `json:"category_id"`
	PaidByApartment   string           `json:"paid_by_apartment"`
	OwedByApartments  []string         `json:"owed_by_apartments"`
	PerApartmentShare *decimal.Decimal `json:"per_apartment_share,omitempty"`
	PaidByApartments  []string         `json:"paid_by_apartments,omitempty"`
}

type SettleShareRequest struct {
	ApartmentID string `json:"apartment_id"`
}

// CreatePaymentRequest records a payment. Status defaults to pending.
type CreatePaymentRequest struct {
	ID          string          `json:"id,omitempty"`
	PayerID     string          `json:"payer_id"`
	PayeeID     string          `json:"payee_id,omitempty"`
	ApartmentID string          `json:"apartment_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status,omitempty"`
	Category    string          `json:"category,omitempty"`
	MonthYear   string          `json:"month_year"`
	Reason      string          `json:"reason,omitempty"`
	ExpenseID   string          `json:"expense_id,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type GenerateRequest struct {
	TargetMonth string `json:"target_month,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalancesResponse lists balances in apartment order.
type BalancesResponse struct {
	Balances []ApartmentBalanceDTO `json:"balances"`
}

type ApartmentBalanceDTO struct {
	ApartmentID ledger.ApartmentID `json:"apartment_id"`
	ledger.ApartmentBalance
}

type SettlementsResponse struct {
	Settlements []ledger.Settlement `json:"settlements"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}
