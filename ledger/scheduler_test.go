package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/apartment-ledger/ledger"
	"github.com/warp/apartment-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newSchedulerFixture(t *testing.T, today time.Time, categories ...ledger.Category) (*ledger.PaymentEventScheduler, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, a := range apartments("apt1", "apt2") {
		require.NoError(t, mem.SaveApartment(ctx, a))
	}
	for _, c := range categories {
		require.NoError(t, mem.SaveCategory(ctx, c))
	}

	clock := ledger.FixedClock{At: today}
	creator := ledger.NewApartmentEventCreator(mem, clock)
	scheduler := ledger.NewPaymentEventScheduler(mem, creator, clock, nil)
	scheduler.Runs = mem
	return scheduler, mem
}

// scriptedCreator fails or panics for chosen category names.
type scriptedCreator struct {
	mu      sync.Mutex
	fail    map[string]error
	panics  map[string]bool
	created []string
}

func (c *scriptedCreator) CreatePaymentEvents(_ context.Context, category ledger.Category, _ ledger.MonthYear, _ bool) (int, error) {
	if c.panics[category.Name] {
		panic("boom")
	}
	if err := c.fail[category.Name]; err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, category.Name)
	return 2, nil
}

// slowCreator holds every batch until release is closed, so two runs can
// both pass the existing-events check before either writes.
type slowCreator struct {
	next    ledger.EventCreator
	entered chan struct{}
	release chan struct{}
}

func (c *slowCreator) CreatePaymentEvents(ctx context.Context, category ledger.Category, month ledger.MonthYear, force bool) (int, error) {
	c.entered <- struct{}{}
	<-c.release
	return c.next.CreatePaymentEvents(ctx, category, month, force)
}

// =============================================================================
// PURE DECISIONS
// =============================================================================

func TestEligibleCategories(t *testing.T) {
	notAuto := maintenance("c2", "Manual", "10", nil)
	notAuto.AutoGenerate = false
	notEvent := maintenance("c3", "Groceries", "10", nil)
	notEvent.IsPaymentEvent = false
	noAmount := maintenance("c4", "Unset", "0", nil)
	noAmount.MonthlyAmount = decimal.NullDecimal{}
	zero := maintenance("c5", "Zero", "0", nil)

	got := ledger.EligibleCategories([]ledger.Category{
		maintenance("c1", "Maintenance", "150", nil), notAuto, notEvent, noAmount, zero,
		maintenance("c6", "Elevator", "20", intPtr(10)),
	})

	require.Len(t, got, 2)
	assert.Equal(t, ledger.CategoryID("c1"), got[0].ID)
	assert.Equal(t, ledger.CategoryID("c6"), got[1].ID)
}

func TestShouldGenerate(t *testing.T) {
	defaultDay := maintenance("c1", "Maintenance", "150", nil)
	day15 := maintenance("c2", "Elevator", "20", intPtr(15))

	assert.True(t, ledger.ShouldGenerate(defaultDay, 1, false))
	assert.False(t, ledger.ShouldGenerate(defaultDay, 2, false))
	assert.True(t, ledger.ShouldGenerate(day15, 15, false))
	assert.False(t, ledger.ShouldGenerate(day15, 1, false))
	assert.True(t, ledger.ShouldGenerate(day15, 1, true))
}

func TestHasExistingEvents_CaseInsensitive(t *testing.T) {
	category := maintenance("c1", "Maintenance", "150", nil)

	assert.True(t, ledger.HasExistingEvents(category, []ledger.Payment{{Reason: "monthly MAINTENANCE fee"}}))
	assert.False(t, ledger.HasExistingEvents(category, []ledger.Payment{{Reason: "Elevator - 2024-03"}}))
	assert.False(t, ledger.HasExistingEvents(category, nil))
}

func TestNextGenerationDate(t *testing.T) {
	today := ledger.Date(2024, time.March, 20)

	assert.Equal(t, ledger.Date(2024, time.March, 20), ledger.NextGenerationDate(maintenance("c", "x", "1", intPtr(20)), today))
	assert.Equal(t, ledger.Date(2024, time.March, 25), ledger.NextGenerationDate(maintenance("c", "x", "1", intPtr(25)), today))
	assert.Equal(t, ledger.Date(2024, time.April, 15), ledger.NextGenerationDate(maintenance("c", "x", "1", intPtr(15)), today))
	assert.Equal(t, ledger.Date(2025, time.January, 1),
		ledger.NextGenerationDate(maintenance("c", "x", "1", nil), ledger.Date(2024, time.December, 2)))
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_IsIdempotentWithoutForce(t *testing.T) {
	// GIVEN: A maintenance category due on day 1, two apartments, today is the 1st
	// WHEN: Generate runs twice for the same month
	// THEN: Events are created once; the second run is skipped

	ctx := context.Background()
	scheduler, mem := newSchedulerFixture(t, ledger.Date(2024, time.March, 1),
		maintenance("c1", "Maintenance", "150", nil))

	first, err := scheduler.Generate(ctx, ledger.GenerateInput{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 2, first[0].EventsCreated)
	assert.False(t, first[0].Skipped)
	assert.Equal(t, ledger.MonthYear("2024-03"), first[0].TargetMonth)

	second, err := scheduler.Generate(ctx, ledger.GenerateInput{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Skipped)
	assert.Equal(t, 0, second[0].EventsCreated)
	assert.Contains(t, second[0].SkipReason, "already exist")

	payments, err := mem.ListPaymentsByMonth(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	for _, p := range payments {
		assert.Equal(t, ledger.StatusPending, p.Status)
		assert.Equal(t, ledger.CategoryIncome, p.Category)
		assert.Equal(t, "Maintenance - 2024-03", p.Reason)
		assertDec(t, "150", p.Amount)
		assert.NotEmpty(t, p.ID)
	}
}

func TestGenerate_ForceBypassesDayAndDuplicateGuard(t *testing.T) {
	ctx := context.Background()
	scheduler, mem := newSchedulerFixture(t, ledger.Date(2024, time.March, 9),
		maintenance("c1", "Maintenance", "150", nil))

	notDue, err := scheduler.Generate(ctx, ledger.GenerateInput{})
	require.NoError(t, err)
	require.Len(t, notDue, 1)
	assert.True(t, notDue[0].Skipped)
	assert.Contains(t, notDue[0].SkipReason, "day 1")

	for i := 0; i < 2; i++ {
		forced, err := scheduler.Generate(ctx, ledger.GenerateInput{Force: true})
		require.NoError(t, err)
		assert.Equal(t, 2, forced[0].EventsCreated)
	}

	payments, err := mem.ListPaymentsByMonth(ctx, "2024-03")
	require.NoError(t, err)
	assert.Len(t, payments, 4)
}

func TestGenerate_OverlappingRunsCreateOnce(t *testing.T) {
	// GIVEN: Two unforced runs on the due day that both see no events yet
	// WHEN: Their creators write one after the other
	// THEN: One run creates 2 events, the other is skipped, 2 payments exist

	ctx := context.Background()
	scheduler, mem := newSchedulerFixture(t, ledger.Date(2024, time.March, 1),
		maintenance("c1", "Maintenance", "150", nil))
	slow := &slowCreator{
		next:    scheduler.Creator,
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	scheduler.Creator = slow

	var wg sync.WaitGroup
	results := make([][]ledger.GenerationResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := scheduler.Generate(ctx, ledger.GenerateInput{})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	<-slow.entered
	<-slow.entered
	close(slow.release)
	wg.Wait()

	created, skipped := 0, 0
	for _, res := range results {
		require.Len(t, res, 1)
		assert.True(t, res[0].Success(), res[0].Error)
		created += res[0].EventsCreated
		if res[0].Skipped {
			skipped++
			assert.Contains(t, res[0].SkipReason, "concurrent run")
		}
	}
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, skipped)

	payments, err := mem.ListPaymentsByMonth(ctx, "2024-03")
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestGenerate_ExplicitTargetMonth(t *testing.T) {
	ctx := context.Background()
	scheduler, mem := newSchedulerFixture(t, ledger.Date(2024, time.March, 1),
		maintenance("c1", "Maintenance", "150", nil))

	results, err := scheduler.Generate(ctx, ledger.GenerateInput{TargetMonth: "2024-04"})
	require.NoError(t, err)
	assert.Equal(t, ledger.MonthYear("2024-04"), results[0].TargetMonth)

	april, err := mem.ListPaymentsByMonth(ctx, "2024-04")
	require.NoError(t, err)
	assert.Len(t, april, 2)
}

func TestGenerate_InvalidTargetMonth(t *testing.T) {
	scheduler, _ := newSchedulerFixture(t, ledger.Date(2024, time.March, 1))

	_, err := scheduler.Generate(context.Background(), ledger.GenerateInput{TargetMonth: "03/2024"})
	assert.ErrorIs(t, err, ledger.ErrInvalidMonthYear)
}

func TestGenerate_NoEligibleCategories(t *testing.T) {
	scheduler, _ := newSchedulerFixture(t, ledger.Date(2024, time.March, 1))

	results, err := scheduler.Generate(context.Background(), ledger.GenerateInput{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestGenerate_FailuresAreIsolated(t *testing.T) {
	// GIVEN: Three due categories; one creator call fails, one panics
	// WHEN: Generating
	// THEN: The healthy category still succeeds; the others report errors

	ctx := context.Background()
	scheduler, _ := newSchedulerFixture(t, ledger.Date(2024, time.March, 1),
		maintenance("c1", "Broken", "10", nil),
		maintenance("c2", "Healthy", "10", nil),
		maintenance("c3", "Explosive", "10", nil),
	)
	creator := &scriptedCreator{
		fail:   map[string]error{"Broken": errors.New("db unavailable")},
		panics: map[string]bool{"Explosive": true},
	}
	scheduler.Creator = creator

	results, err := scheduler.Generate(ctx, ledger.GenerateInput{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Broken", results[0].CategoryName)
	assert.Equal(t, "db unavailable", results[0].Error)
	assert.False(t, results[0].Success())

	assert.Equal(t, "Healthy", results[1].CategoryName)
	assert.True(t, results[1].Success())
	assert.Equal(t, 2, results[1].EventsCreated)

	assert.Equal(t, "Explosive", results[2].CategoryName)
	assert.Contains(t, results[2].Error, "panic")
	assert.Equal(t, []string{"Healthy"}, creator.created)
}

func TestGenerate_ManyCategoriesKeepOrder(t *testing.T) {
	var categories []ledger.Category
	for i := 0; i < 20; i++ {
		categories = append(categories, maintenance(ledger.CategoryID(fmt.Sprintf("c%02d", i)), fmt.Sprintf("Fee %02d", i), "5", nil))
	}
	scheduler, _ := newSchedulerFixture(t, ledger.Date(2024, time.March, 1), categories...)
	scheduler.Concurrency = 3

	results, err := scheduler.Generate(context.Background(), ledger.GenerateInput{})
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, categories[i].ID, r.CategoryID)
		assert.Equal(t, 2, r.EventsCreated)
	}
}

func TestRun_RecordsAuditTrail(t *testing.T) {
	ctx := context.Background()
	scheduler, mem := newSchedulerFixture(t, ledger.Date(2024, time.March, 1),
		maintenance("c1", "Maintenance", "150", nil),
		maintenance("c2", "Elevator", "20", intPtr(15)),
	)

	run, err := scheduler.Run(ctx, "manual", ledger.GenerateInput{})
	require.NoError(t, err)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, ledger.MonthYear("2024-03"), run.TargetMonth)
	assert.Equal(t, 2, run.EventsCreated)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 0, run.Failed)

	runs, err := mem.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

// =============================================================================
// STATUS
// =============================================================================

func TestStatus_RollsToNextMonth(t *testing.T) {
	scheduler, _ := newSchedulerFixture(t, time.Date(2024, time.March, 20, 14, 30, 0, 0, time.UTC),
		maintenance("c1", "Maintenance", "150", intPtr(15)),
		maintenance("c2", "Elevator", "20", intPtr(20)),
		maintenance("c3", "Garden", "5", intPtr(25)),
	)

	status, err := scheduler.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 3)

	assert.Equal(t, ledger.Date(2024, time.April, 15), status[0].NextDate)
	assert.Equal(t, 26, status[0].DaysUntil)
	assert.Equal(t, "150", status[0].MonthlyAmount)

	assert.Equal(t, ledger.Date(2024, time.March, 20), status[1].NextDate)
	assert.Equal(t, 0, status[1].DaysUntil)

	assert.Equal(t, 5, status[2].DaysUntil)
	assert.Equal(t, 25, status[2].DayOfMonth)
}

// =============================================================================
// EVENT CREATOR
// =============================================================================

func TestApartmentEventCreator_DeterministicIDs(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, a := range apartments("apt1", "apt2", "apt3") {
		require.NoError(t, mem.SaveApartment(ctx, a))
	}
	creator := ledger.NewApartmentEventCreator(mem, ledger.FixedClock{At: ledger.Date(2024, time.June, 1)})

	created, err := creator.CreatePaymentEvents(ctx, maintenance("c1", "Maintenance", "99.90", nil), "2024-06", false)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	p, err := mem.GetPayment(ctx, ledger.EventPaymentID("c1", "2024-06", "apt2"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, ledger.PaymentID("c1-2024-06-apt2"), p.ID)
	assert.Equal(t, ledger.ApartmentID("apt2"), p.ApartmentID)
	assert.Equal(t, "apt2", p.PayerID)
	assertDec(t, "99.90", p.Amount)
	assert.Equal(t, ledger.Date(2024, time.June, 1), p.CreatedAt)
}

func TestApartmentEventCreator_SecondUnforcedBatchIsDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, a := range apartments("apt1", "apt2") {
		require.NoError(t, mem.SaveApartment(ctx, a))
	}
	creator := ledger.NewApartmentEventCreator(mem, nil)
	category := maintenance("c1", "Maintenance", "10", nil)

	_, err := creator.CreatePaymentEvents(ctx, category, "2024-06", false)
	require.NoError(t, err)
	_, err = creator.CreatePaymentEvents(ctx, category, "2024-06", false)
	assert.ErrorIs(t, err, ledger.ErrDuplicateRecord)

	payments, err := mem.ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestApartmentEventCreator_ForcedEventsUseSuffix(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, a := range apartments("apt1", "apt2") {
		require.NoError(t, mem.SaveApartment(ctx, a))
	}
	n := 0
	creator := &ledger.ApartmentEventCreator{
		Store: mem,
		NewID: func() string { n++; return fmt.Sprintf("r%d", n) },
	}
	category := maintenance("c1", "Maintenance", "10", nil)

	_, err := creator.CreatePaymentEvents(ctx, category, "2024-06", false)
	require.NoError(t, err)
	created, err := creator.CreatePaymentEvents(ctx, category, "2024-06", true)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	p, err := mem.GetPayment(ctx, "c1-2024-06-apt2-r2")
	require.NoError(t, err)
	assert.NotNil(t, p)
}
