package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Boundary validation for records arriving from the API or a store import.
// The engine itself tolerates dangling references; these checks only reject
// records that are malformed on their own.

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("monthyear", func(fl validator.FieldLevel) bool {
			return MonthYear(fl.Field().String()).Valid()
		})
	})
	return validate
}

func structErrors(record string, v any) *ValidationError {
	fields := make(map[string]string)
	if err := recordValidator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			fields["_"] = err.Error()
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fmt.Sprintf("failed %q", fe.Tag())
		}
	}
	return &ValidationError{Record: record, Fields: fields}
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func ValidateApartment(a Apartment) error {
	return structErrors("apartment", a).orNil()
}

func ValidateCategory(c Category) error {
	verr := structErrors("category", c)
	if c.MonthlyAmount.Valid && c.MonthlyAmount.Decimal.IsNegative() {
		verr.Fields["MonthlyAmount"] = "must not be negative"
	}
	return verr.orNil()
}

// ValidateExpense checks an expense on its own: non-negative money and a
// PaidByApartments list that only names owing apartments.
func ValidateExpense(e Expense) error {
	verr := structErrors("expense", e)
	if e.Amount.IsNegative() {
		verr.Fields["Amount"] = "must not be negative"
	}
	if e.PerApartmentShare.IsNegative() {
		verr.Fields["PerApartmentShare"] = "must not be negative"
	}
	owed := make(map[ApartmentID]bool, len(e.OwedByApartments))
	for _, id := range e.OwedByApartments {
		owed[id] = true
	}
	for _, id := range e.PaidByApartments {
		if !owed[id] {
			verr.Fields["PaidByApartments"] = fmt.Sprintf("%s is not in owed_by_apartments", id)
			break
		}
	}
	return verr.orNil()
}

func ValidatePayment(p Payment) error {
	verr := structErrors("payment", p)
	if p.Amount.IsNegative() {
		verr.Fields["Amount"] = "must not be negative"
	}
	if p.LedgerApartment() == "" {
		verr.Fields["ApartmentID"] = "apartment_id or payer_id is required"
	}
	return verr.orNil()
}
