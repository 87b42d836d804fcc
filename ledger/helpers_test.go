package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/apartment-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, "decimal mismatch: want "+want+", got "+got.String(), msgAndArgs...)
	}
}

func apartments(ids ...ledger.ApartmentID) []ledger.Apartment {
	out := make([]ledger.Apartment, len(ids))
	for i, id := range ids {
		out[i] = ledger.Apartment{ID: id, Name: "Apartment " + string(id)}
	}
	return out
}

func ids(in ...ledger.ApartmentID) []ledger.ApartmentID { return in }

// sharedExpense builds an equal-share expense dated in the given month.
func sharedExpense(id ledger.ExpenseID, payer ledger.ApartmentID, share string, owed []ledger.ApartmentID, paid []ledger.ApartmentID, date time.Time) ledger.Expense {
	return ledger.Expense{
		ID:                id,
		Description:       "shared " + string(id),
		Amount:            dec(share).Mul(decimal.NewFromInt(int64(len(owed)))),
		Date:              date,
		CategoryID:        "general",
		PaidByApartment:   payer,
		OwedByApartments:  owed,
		PerApartmentShare: dec(share),
		PaidByApartments:  paid,
	}
}

func payment(id ledger.PaymentID, apt ledger.ApartmentID, amount string, status ledger.PaymentStatus, month ledger.MonthYear) ledger.Payment {
	return ledger.Payment{
		ID:          id,
		PayerID:     string(apt),
		ApartmentID: apt,
		Amount:      dec(amount),
		Status:      status,
		MonthYear:   month,
	}
}

func intPtr(n int) *int { return &n }

func maintenance(id ledger.CategoryID, name string, amount string, day *int) ledger.Category {
	return ledger.Category{
		ID:             id,
		Name:           name,
		IsPaymentEvent: true,
		AutoGenerate:   true,
		MonthlyAmount:  decimal.NewNullDecimal(dec(amount)),
		DayOfMonth:     day,
	}
}
