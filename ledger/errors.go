/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers wrap these with context and test them with errors.Is/As.

ERROR CATEGORIES:
  1. Lookup errors - a referenced record does not exist
  2. Validation errors - malformed input rejected at the boundary
  3. Continuity errors - returned as data by ValidateContinuity, never raised

NOTE:
  The pure engine functions do not return errors at all. Missing
  apartment or category references are skipped, not reported.

SEE ALSO:
  - sheet.go: ContinuityError
  - service.go: wraps these with record context
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrExpenseNotFound   = errors.New("expense not found")
	ErrApartmentNotFound = errors.New("apartment not found")
	ErrCategoryNotFound  = errors.New("category not found")

	// ErrInvalidStatus is returned for a payment status outside
	// pending/approved/paid/rejected.
	ErrInvalidStatus = errors.New("invalid payment status")

	// ErrInvalidMonthYear is returned for a month that is not "YYYY-MM".
	ErrInvalidMonthYear = errors.New("invalid month, expected YYYY-MM")

	// ErrApartmentNotOwed is returned when settling a share for an
	// apartment that is not in the expense's owed list.
	ErrApartmentNotOwed = errors.New("apartment does not owe this expense")

	// ErrInvalidRecord is returned when a record fails boundary validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicateRecord is returned when inserting a record whose ID exists.
	ErrDuplicateRecord = errors.New("record already exists")

	// ErrConcurrentUpdate is returned when a record changed between the
	// read and the write of a transition. Retrying is safe.
	ErrConcurrentUpdate = errors.New("record changed concurrently")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ContinuityError reports a month whose opening balance does not match the
// previous month's closing balance.
type ContinuityError struct {
	MonthYear       MonthYear       `json:"month_year"`
	PreviousMonth   MonthYear       `json:"previous_month"`
	ExpectedOpening decimal.Decimal `json:"expected_opening"`
	ActualOpening   decimal.Decimal `json:"actual_opening"`
}

func (e ContinuityError) Error() string {
	return fmt.Sprintf("continuity break at %s: opening %s does not match %s closing %s",
		e.MonthYear, e.ActualOpening, e.PreviousMonth, e.ExpectedOpening)
}

// Difference returns actual minus expected opening.
func (e ContinuityError) Difference() decimal.Decimal {
	return e.ActualOpening.Sub(e.ExpectedOpening)
}

// ValidationError carries per-field messages from boundary validation.
type ValidationError struct {
	Record string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Record, e.Fields)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrExpenseNotFound) ||
		errors.Is(err, ErrApartmentNotFound) ||
		errors.Is(err, ErrCategoryNotFound)
}

// IsConflict returns true if the error is a duplicate insert or a lost
// concurrent update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateRecord) || errors.Is(err, ErrConcurrentUpdate)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidMonthYear) ||
		errors.Is(err, ErrApartmentNotOwed) ||
		errors.Is(err, ErrInvalidRecord)
}
