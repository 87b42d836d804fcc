package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/apartment-ledger/ledger"
)

func TestValidateExpense(t *testing.T) {
	valid := sharedExpense("e1", "apt1", "100", ids("apt1", "apt2"), ids("apt2"), ledger.Date(2024, time.March, 5))
	assert.NoError(t, ledger.ValidateExpense(valid))

	bad := valid
	bad.PaidByApartments = ids("apt9")
	bad.PerApartmentShare = dec("-1")
	err := ledger.ValidateExpense(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)

	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "PaidByApartments")
	assert.Contains(t, verr.Fields, "PerApartmentShare")

	empty := valid
	empty.OwedByApartments = nil
	require.ErrorAs(t, ledger.ValidateExpense(empty), &verr)
	assert.Contains(t, verr.Fields, "OwedByApartments")
}

func TestValidatePayment(t *testing.T) {
	p := payment("p1", "apt1", "10", ledger.StatusPending, "2024-03")
	assert.NoError(t, ledger.ValidatePayment(p))

	p.MonthYear = "March"
	err := ledger.ValidatePayment(p)
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "MonthYear")

	p = payment("p1", "", "10", "unknown", "2024-03")
	require.ErrorAs(t, ledger.ValidatePayment(p), &verr)
	assert.Contains(t, verr.Fields, "Status")
	assert.Contains(t, verr.Fields, "ApartmentID")
}

func TestValidateCategory(t *testing.T) {
	assert.NoError(t, ledger.ValidateCategory(maintenance("c1", "Maintenance", "150", intPtr(28))))

	var verr *ledger.ValidationError
	require.ErrorAs(t, ledger.ValidateCategory(maintenance("c1", "Maintenance", "-5", intPtr(31))), &verr)
	assert.Contains(t, verr.Fields, "DayOfMonth")
	assert.Contains(t, verr.Fields, "MonthlyAmount")
}

func TestValidateApartment(t *testing.T) {
	assert.NoError(t, ledger.ValidateApartment(ledger.Apartment{ID: "apt1", Name: "1A"}))
	assert.ErrorIs(t, ledger.ValidateApartment(ledger.Apartment{ID: "apt1"}), ledger.ErrInvalidRecord)
}
