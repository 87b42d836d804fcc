package sqlstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/apartment-ledger/ledger"
	"github.com/warp/apartment-ledger/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.New(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedApartments(t *testing.T, store *sqlstore.Store, ids ...ledger.ApartmentID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.SaveApartment(context.Background(), ledger.Apartment{ID: id, Name: "Apt " + string(id)}))
	}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestNew_RejectsUnknownDriver(t *testing.T) {
	_, err := sqlstore.New("oracle", "whatever")
	assert.Error(t, err)
}

func TestApartments_UpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedApartments(t, store, "apt2", "apt1")
	require.NoError(t, store.SaveApartment(ctx, ledger.Apartment{ID: "apt1", Name: "Penthouse"}))

	apartments, err := store.ListApartments(ctx)
	require.NoError(t, err)
	require.Len(t, apartments, 2)
	assert.Equal(t, ledger.Apartment{ID: "apt1", Name: "Penthouse"}, apartments[0])
	assert.Equal(t, ledger.ApartmentID("apt2"), apartments[1].ID)
}

func TestApartments_ValidationRejected(t *testing.T) {
	err := newTestStore(t).SaveApartment(context.Background(), ledger.Apartment{ID: "apt1"})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}

func TestCategories_RoundTripOptionalFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	day := 15
	require.NoError(t, store.SaveCategory(ctx, ledger.Category{
		ID: "maint", Name: "Maintenance", IsPaymentEvent: true, AutoGenerate: true,
		MonthlyAmount: decimal.NewNullDecimal(dec("150.50")), DayOfMonth: &day,
	}))
	require.NoError(t, store.SaveCategory(ctx, ledger.Category{ID: "misc", Name: "Misc"}))

	categories, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)

	maint := categories[0]
	assert.True(t, maint.IsPaymentEvent)
	assert.True(t, maint.AutoGenerate)
	require.True(t, maint.MonthlyAmount.Valid)
	assert.True(t, dec("150.50").Equal(maint.MonthlyAmount.Decimal))
	require.NotNil(t, maint.DayOfMonth)
	assert.Equal(t, 15, *maint.DayOfMonth)

	misc := categories[1]
	assert.False(t, misc.MonthlyAmount.Valid)
	assert.Nil(t, misc.DayOfMonth)
	assert.Equal(t, 1, misc.GenerationDay())
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestExpenses_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	expense := ledger.Expense{
		ID:                "e1",
		Description:       "Lobby paint",
		Amount:            dec("300"),
		Date:              time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		CategoryID:        "repairs",
		PaidByApartment:   "apt1",
		OwedByApartments:  []ledger.ApartmentID{"apt1", "apt2", "apt3"},
		PerApartmentShare: dec("100"),
	}
	require.NoError(t, store.SaveExpense(ctx, expense))

	got, err := store.GetExpense(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, expense.OwedByApartments, got.OwedByApartments)
	assert.Empty(t, got.PaidByApartments)
	assert.True(t, expense.Date.Equal(got.Date))
	assert.True(t, dec("100").Equal(got.PerApartmentShare))
	assert.Equal(t, ledger.MonthYear("2024-03"), got.MonthYear())

	got.PaidByApartments = []ledger.ApartmentID{"apt2"}
	require.NoError(t, store.SaveExpense(ctx, *got))

	all, err := store.ListExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []ledger.ApartmentID{"apt2"}, all[0].PaidByApartments)

	missing, err := store.GetExpense(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExpenses_RoundTripKeepsOffsetAndMonth(t *testing.T) {
	// GIVEN: An expense booked half an hour into March at UTC+2
	// WHEN: It is saved and read back
	// THEN: The instant, the offset and the ledger month all survive

	ctx := context.Background()
	store := newTestStore(t)
	athens := time.FixedZone("UTC+2", 2*60*60)
	expense := ledger.Expense{
		ID:                "e1",
		Amount:            dec("20"),
		Date:              time.Date(2024, time.March, 1, 0, 30, 0, 0, athens),
		PaidByApartment:   "apt1",
		OwedByApartments:  []ledger.ApartmentID{"apt1", "apt2"},
		PerApartmentShare: dec("10"),
	}
	require.Equal(t, ledger.MonthYear("2024-03"), expense.MonthYear())
	require.NoError(t, store.SaveExpense(ctx, expense))

	got, err := store.GetExpense(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, expense.Date.Equal(got.Date))
	_, offset := got.Date.Zone()
	assert.Equal(t, 2*60*60, offset)
	assert.Equal(t, ledger.MonthYear("2024-03"), got.MonthYear())

	deltas := ledger.NewSplitCalculator(nil).MonthlyDeltas([]ledger.Expense{*got})
	require.NotEmpty(t, deltas)
	for _, d := range deltas {
		assert.Equal(t, ledger.MonthYear("2024-03"), d.MonthYear)
	}
}

func TestExpenses_CorruptDateIsError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveExpense(ctx, ledger.Expense{
		ID:                "e1",
		Amount:            dec("10"),
		Date:              time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		PaidByApartment:   "apt1",
		OwedByApartments:  []ledger.ApartmentID{"apt2"},
		PerApartmentShare: dec("10"),
	}))
	_, err := sqlstore.DB(store).ExecContext(ctx, "UPDATE expenses SET expense_date = 'yesterday'")
	require.NoError(t, err)

	_, err = store.GetExpense(ctx, "e1")
	assert.ErrorContains(t, err, "bad date")
}

func TestExpenses_PaidMustBeSubsetOfOwed(t *testing.T) {
	err := newTestStore(t).SaveExpense(context.Background(), ledger.Expense{
		ID:               "e1",
		Amount:           dec("10"),
		Date:             time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		PaidByApartment:  "apt1",
		OwedByApartments: []ledger.ApartmentID{"apt2"},
		PaidByApartments: []ledger.ApartmentID{"apt3"},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}

// =============================================================================
// PAYMENTS & LEDGER TOTALS
// =============================================================================

func pendingPayment(id ledger.PaymentID, apt ledger.ApartmentID, amount string, month ledger.MonthYear) ledger.Payment {
	return ledger.Payment{
		ID:          id,
		PayerID:     string(apt),
		ApartmentID: apt,
		Amount:      dec(amount),
		Status:      ledger.StatusPending,
		MonthYear:   month,
		Reason:      "Maintenance - " + string(month),
		CreatedAt:   time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC),
	}
}

func TestSavePayments_BatchIsAtomic(t *testing.T) {
	// GIVEN: A stored payment p1
	// WHEN: Saving a batch [p2, p1]
	// THEN: The batch fails with ErrDuplicateRecord and p2 is not stored

	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SavePayments(ctx, []ledger.Payment{pendingPayment("p1", "apt1", "10", "2024-03")}))

	err := store.SavePayments(ctx, []ledger.Payment{
		pendingPayment("p2", "apt2", "10", "2024-03"),
		pendingPayment("p1", "apt1", "10", "2024-03"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateRecord)

	p2, err := store.GetPayment(ctx, "p2")
	require.NoError(t, err)
	assert.Nil(t, p2)

	march, err := store.ListPaymentsByMonth(ctx, "2024-03")
	require.NoError(t, err)
	assert.Len(t, march, 1)
}

func TestTransitionPayment_AppliesDeltasAtomically(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedApartments(t, store, "apt1")
	require.NoError(t, store.SavePayments(ctx, []ledger.Payment{pendingPayment("p1", "apt1", "100", "2024-03")}))

	svc := ledger.NewService(store, nil)

	result, err := svc.TransitionPayment(ctx, "p1", "approved")
	require.NoError(t, err)
	require.Len(t, result.Deltas, 1)

	totals, err := store.LedgerTotals(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, dec("100").Equal(totals[0].TotalIncome))
	assert.True(t, decimal.Zero.Equal(totals[0].TotalExpenses))

	settled, err := store.ListSettledPayments(ctx)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, ledger.StatusApproved, settled[0].Status)

	_, err = svc.TransitionPayment(ctx, "p1", "rejected")
	require.NoError(t, err)
	totals, err = store.LedgerTotals(ctx, "")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, totals[0].TotalIncome.IsZero())
}

func TestTransitionPayment_MissingPaymentWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	called := false
	err := store.TransitionPayment(ctx, "ghost", func(p ledger.Payment) (ledger.Payment, []ledger.PaymentDelta, error) {
		called = true
		return p, []ledger.PaymentDelta{{ApartmentID: "apt1", MonthYear: "2024-03", TotalIncomeDelta: dec("5")}}, nil
	})
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
	assert.False(t, called)

	totals, err := store.LedgerTotals(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestTransitionPayment_ConcurrentApprovalsCountOnce(t *testing.T) {
	// GIVEN: One pending income payment of 100
	// WHEN: Sixteen requests approve it at the same time
	// THEN: Exactly one of them moves the running total, which ends at 100

	ctx := context.Background()
	store := newTestStore(t)
	seedApartments(t, store, "apt1")
	require.NoError(t, store.SavePayments(ctx, []ledger.Payment{pendingPayment("p1", "apt1", "100", "2024-03")}))
	svc := ledger.NewService(store, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	withDeltas := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := svc.TransitionPayment(ctx, "p1", "approved")
			if !assert.NoError(t, err) {
				return
			}
			if len(result.Deltas) > 0 {
				mu.Lock()
				withDeltas++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, withDeltas)
	totals, err := store.LedgerTotals(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, dec("100").Equal(totals[0].TotalIncome), "got %s", totals[0].TotalIncome)
}

func TestTransitionPayment_TwoProcessesApproveOnce(t *testing.T) {
	// GIVEN: Two stores on one database file, like the server and the worker
	// WHEN: The second approves the payment while the first is mid-transition
	// THEN: The first write fails and the running total counts the payment once

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := sqlstore.New(sqlstore.DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := sqlstore.New(sqlstore.DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	require.NoError(t, first.SavePayments(ctx, []ledger.Payment{pendingPayment("p1", "apt1", "100", "2024-03")}))

	err = first.TransitionPayment(ctx, "p1", func(p ledger.Payment) (ledger.Payment, []ledger.PaymentDelta, error) {
		_, otherErr := ledger.NewService(second, nil).TransitionPayment(ctx, "p1", "approved")
		require.NoError(t, otherErr)

		updated := p
		updated.Status = ledger.StatusApproved
		return updated, ledger.ComputeDelta(&p, &updated), nil
	})
	assert.Error(t, err)

	totals, err := first.LedgerTotals(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, dec("100").Equal(totals[0].TotalIncome), "got %s", totals[0].TotalIncome)
}

func TestCreatePayment_RollsBackWhenTotalsFail(t *testing.T) {
	// GIVEN: ledger_totals rejects every insert
	// WHEN: An approved payment is recorded
	// THEN: The call fails and the payment row is not left behind

	ctx := context.Background()
	store := newTestStore(t)
	seedApartments(t, store, "apt1")
	_, err := sqlstore.DB(store).ExecContext(ctx, `
		CREATE TRIGGER totals_locked BEFORE INSERT ON ledger_totals
		BEGIN SELECT RAISE(ABORT, 'totals locked'); END`)
	require.NoError(t, err)

	p := pendingPayment("p1", "apt1", "100", "2024-03")
	p.Status = ledger.StatusApproved
	_, err = ledger.NewService(store, nil).RecordPayment(ctx, p)
	require.Error(t, err)

	stored, err := store.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestCreatePayment_AppliesDeltas(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	p := pendingPayment("p1", "apt1", "40", "2024-03")
	p.Status = ledger.StatusApproved

	require.NoError(t, store.CreatePayment(ctx, p, ledger.ComputeDelta(nil, &p)))
	assert.ErrorIs(t, store.CreatePayment(ctx, p, nil), ledger.ErrDuplicateRecord)

	totals, err := store.LedgerTotals(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, dec("40").Equal(totals[0].TotalIncome))
}

func TestLedgerTotals_CorruptCellIsError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.ApplyDeltas(ctx, []ledger.PaymentDelta{
		{ApartmentID: "apt1", MonthYear: "2024-03", TotalIncomeDelta: dec("10"), TotalExpensesDelta: decimal.Zero},
	}))
	_, err := sqlstore.DB(store).ExecContext(ctx, "UPDATE ledger_totals SET total_income = 'ten'")
	require.NoError(t, err)

	_, err = store.LedgerTotals(ctx, "")
	assert.ErrorContains(t, err, "bad total_income")

	err = store.ApplyDeltas(ctx, []ledger.PaymentDelta{
		{ApartmentID: "apt1", MonthYear: "2024-03", TotalIncomeDelta: dec("1"), TotalExpensesDelta: decimal.Zero},
	})
	assert.ErrorContains(t, err, "bad total_income")
}

func TestApplyDeltas_Accumulates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.ApplyDeltas(ctx, []ledger.PaymentDelta{
		{ApartmentID: "apt1", MonthYear: "2024-03", TotalIncomeDelta: dec("10.25"), TotalExpensesDelta: dec("1")},
		{ApartmentID: "apt2", MonthYear: "2024-04", TotalIncomeDelta: decimal.Zero, TotalExpensesDelta: dec("3")},
	}))
	require.NoError(t, store.ApplyDeltas(ctx, []ledger.PaymentDelta{
		{ApartmentID: "apt1", MonthYear: "2024-03", TotalIncomeDelta: dec("-0.25"), TotalExpensesDelta: decimal.Zero},
	}))

	totals, err := store.LedgerTotals(ctx, "")
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.True(t, dec("10").Equal(totals[0].TotalIncome))
	assert.True(t, dec("1").Equal(totals[0].TotalExpenses))
	assert.Equal(t, ledger.MonthYear("2024-04"), totals[1].MonthYear)
	assert.True(t, dec("3").Equal(totals[1].TotalExpenses))
}

// =============================================================================
// SCHEDULER INTEGRATION
// =============================================================================

func TestScheduler_AgainstSQLStore(t *testing.T) {
	// GIVEN: Two apartments and a maintenance category due on the 1st
	// WHEN: The scheduler runs twice on March 1st
	// THEN: Two pending payments exist and two runs are recorded

	ctx := context.Background()
	store := newTestStore(t)
	seedApartments(t, store, "apt1", "apt2")
	require.NoError(t, store.SaveCategory(ctx, ledger.Category{
		ID: "maint", Name: "Maintenance", IsPaymentEvent: true, AutoGenerate: true,
		MonthlyAmount: decimal.NewNullDecimal(dec("150")),
	}))

	clock := ledger.FixedClock{At: time.Date(2024, time.March, 1, 6, 0, 0, 0, time.UTC)}
	scheduler := ledger.NewPaymentEventScheduler(store, ledger.NewApartmentEventCreator(store, clock), clock, nil)
	scheduler.Runs = store

	first, err := scheduler.Run(ctx, "test", ledger.GenerateInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.EventsCreated)

	second, err := scheduler.Run(ctx, "test", ledger.GenerateInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.EventsCreated)
	assert.Equal(t, 1, second.Skipped)

	payments, err := store.ListPaymentsByMonth(ctx, "2024-03")
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Len(t, runs[0].Results, 1)
	assert.Equal(t, ledger.CategoryID("maint"), runs[0].Results[0].CategoryID)

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
