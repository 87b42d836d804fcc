/*
scheduler.go - Recurring payment event generation

PURPOSE:
  Decides which recurring monthly obligations (maintenance fees and the
  like) must be generated for a month, and hands the creation itself to
  an EventCreator.

ELIGIBLE CATEGORIES:
  IsPaymentEvent && AutoGenerate && MonthlyAmount > 0

DECISION PER CATEGORY:
  1. Due?       force, or today's day == DayOfMonth (default 1)
  2. Already?   a payment in the target month whose reason mentions the
                category name => skipped, unless force
  3. Generate   EventCreator.CreatePaymentEvents

  Step 2 makes re-triggered runs cheap: calling Generate twice for the same
  month without force creates events once. It is a snapshot read, so two
  overlapping runs (ticker, API, asynq cron) can both pass it. The creator
  then writes deterministic IDs and the slower run's batch fails with
  ErrDuplicateRecord, which is reported as skipped.

FAILURE ISOLATION:
  Categories are processed independently (bounded fan-out). A failure, or
  a panic, in one category is recorded in that category's result and the
  rest carry on. Generate itself only fails when the inputs can't be read.

STATUS MODE:
  Status reports, per category, the next date on or after today that
  matches DayOfMonth, rolling to next month once this month's day passed.

SEE ALSO:
  - events.go: ApartmentEventCreator, the default EventCreator
  - api/scheduler.go: ticker that calls Generate periodically
  - jobs/: asynq cron task that calls Generate
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// PaymentEventStore is the read side the scheduler needs.
type PaymentEventStore interface {
	CategoryReader
	ListPaymentsByMonth(ctx context.Context, month MonthYear) ([]Payment, error)
}

// EventCreator creates the payment records for one category and month,
// returning how many were created.
type EventCreator interface {
	// Unforced calls must fail with ErrDuplicateRecord when the events of
	// that category and month already exist.
	CreatePaymentEvents(ctx context.Context, category Category, month MonthYear, force bool) (int, error)
}

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

type GenerateInput struct {
	// TargetMonth defaults to the clock's current month.
	TargetMonth MonthYear `json:"target_month,omitempty"`
	Force       bool      `json:"force,omitempty"`
}

// GenerationResult is the per-category outcome of a Generate call.
type GenerationResult struct {
	CategoryID    CategoryID `json:"category_id"`
	CategoryName  string     `json:"category_name"`
	TargetMonth   MonthYear  `json:"target_month"`
	EventsCreated int        `json:"events_created"`
	Skipped       bool       `json:"skipped,omitempty"`
	SkipReason    string     `json:"skip_reason,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Success reports whether the category finished without error.
func (r GenerationResult) Success() bool { return r.Error == "" }

// CategoryStatus is the status-mode view of one category.
type CategoryStatus struct {
	CategoryID    CategoryID `json:"category_id"`
	CategoryName  string     `json:"category_name"`
	DayOfMonth    int        `json:"day_of_month"`
	MonthlyAmount string     `json:"monthly_amount"`
	NextDate      time.Time  `json:"next_date"`
	DaysUntil     int        `json:"days_until"`
}

// GenerationRun is the audit record of one Generate pass.
type GenerationRun struct {
	ID            string             `json:"id"`
	Trigger       string             `json:"trigger"`
	TargetMonth   MonthYear          `json:"target_month"`
	Force         bool               `json:"force"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	EventsCreated int                `json:"events_created"`
	Skipped       int                `json:"skipped"`
	Failed        int                `json:"failed"`
	Error         string             `json:"error,omitempty"`
	Results       []GenerationResult `json:"results"`
}

// Summarize fills the counters from Results.
func (r *GenerationRun) Summarize() {
	r.EventsCreated, r.Skipped, r.Failed = 0, 0, 0
	for _, res := range r.Results {
		switch {
		case res.Error != "":
			r.Failed++
		case res.Skipped:
			r.Skipped++
		default:
			r.EventsCreated += res.EventsCreated
		}
	}
}

// =============================================================================
// PURE DECISIONS
// =============================================================================

// EligibleCategories keeps auto-generated payment-event categories with a
// positive monthly amount, preserving order.
func EligibleCategories(categories []Category) []Category {
	var out []Category
	for _, c := range categories {
		if !c.IsPaymentEvent || !c.AutoGenerate {
			continue
		}
		if !c.MonthlyAmount.Valid || !c.MonthlyAmount.Decimal.IsPositive() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ShouldGenerate reports whether the category is due on the given day.
func ShouldGenerate(category Category, currentDay int, force bool) bool {
	return force || currentDay == category.GenerationDay()
}

// HasExistingEvents reports whether any payment in the list references the
// category by name in its reason.
func HasExistingEvents(category Category, payments []Payment) bool {
	name := strings.ToLower(strings.TrimSpace(category.Name))
	if name == "" {
		return false
	}
	for _, p := range payments {
		if strings.Contains(strings.ToLower(p.Reason), name) {
			return true
		}
	}
	return false
}

// NextGenerationDate returns the first date on or after today whose day
// matches the category's generation day.
func NextGenerationDate(category Category, today time.Time) time.Time {
	day := category.GenerationDay()
	y, m, d := today.Date()
	if d <= day {
		return time.Date(y, m, day, 0, 0, 0, 0, today.Location())
	}
	return time.Date(y, m+1, day, 0, 0, 0, 0, today.Location())
}

// =============================================================================
// SCHEDULER
// =============================================================================

// PaymentEventScheduler runs the generation decision against stored data.
type PaymentEventScheduler struct {
	Store   PaymentEventStore
	Creator EventCreator
	Clock   Clock
	Logger  *slog.Logger

	// Runs, when set, receives an audit record for every Run call.
	Runs RunRecorder

	// Concurrency bounds the per-category fan-out. Zero means 4.
	Concurrency int
}

func NewPaymentEventScheduler(store PaymentEventStore, creator EventCreator, clock Clock, logger *slog.Logger) *PaymentEventScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentEventScheduler{Store: store, Creator: creator, Clock: clock, Logger: logger}
}

// Generate processes every eligible category for the target month. The
// returned slice has one entry per eligible category, in category order.
func (s *PaymentEventScheduler) Generate(ctx context.Context, input GenerateInput) ([]GenerationResult, error) {
	now := s.clock().Now()
	target := input.TargetMonth
	if target == "" {
		target = MonthOf(now)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMonthYear, target)
	}

	categories, err := s.Store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	eligible := EligibleCategories(categories)
	if len(eligible) == 0 {
		return []GenerationResult{}, nil
	}

	existing, err := s.Store.ListPaymentsByMonth(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("list payments for %s: %w", target, err)
	}

	results := make([]GenerationResult, len(eligible))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, category := range eligible {
		i, category := i, category
		g.Go(func() error {
			results[i] = s.processCategory(ctx, category, target, now.Day(), input.Force, existing)
			return nil
		})
	}
	_ = g.Wait()

	summary := GenerationRun{Results: results}
	summary.Summarize()
	s.logger().Info("payment event generation finished",
		slog.String("target_month", target.String()),
		slog.Bool("force", input.Force),
		slog.Int("events_created", summary.EventsCreated),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))

	return results, nil
}

// Run wraps Generate with an audit record. The run is recorded even when
// Generate fails; the error is returned as well.
func (s *PaymentEventScheduler) Run(ctx context.Context, trigger string, input GenerateInput) (GenerationRun, error) {
	run := GenerationRun{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		TargetMonth: input.TargetMonth,
		Force:       input.Force,
		StartedAt:   s.clock().Now(),
	}
	if run.TargetMonth == "" {
		run.TargetMonth = MonthOf(run.StartedAt)
	}

	results, err := s.Generate(ctx, input)
	run.FinishedAt = s.clock().Now()
	run.Results = results
	if run.Results == nil {
		run.Results = []GenerationResult{}
	}
	run.Summarize()
	if err != nil {
		run.Error = err.Error()
	}

	if s.Runs != nil {
		if recErr := s.Runs.RecordRun(ctx, run); recErr != nil {
			s.logger().Warn("failed to record generation run",
				slog.String("run_id", run.ID), slog.Any("error", recErr))
		}
	}
	return run, err
}

func (s *PaymentEventScheduler) processCategory(
	ctx context.Context,
	category Category,
	target MonthYear,
	currentDay int,
	force bool,
	existing []Payment,
) (result GenerationResult) {
	result = GenerationResult{
		CategoryID:   category.ID,
		CategoryName: category.Name,
		TargetMonth:  target,
	}
	defer func() {
		if r := recover(); r != nil {
			result.EventsCreated = 0
			result.Error = fmt.Sprintf("panic: %v", r)
			s.logger().Error("payment event generation panicked",
				slog.String("category", category.Name), slog.Any("panic", r))
		}
	}()

	if !ShouldGenerate(category, currentDay, force) {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("scheduled for day %d, today is day %d", category.GenerationDay(), currentDay)
		return result
	}

	if !force && HasExistingEvents(category, existing) {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("payment events for %q already exist in %s", category.Name, target)
		return result
	}

	if s.Creator == nil {
		result.Error = "no event creator configured"
		return result
	}

	n, err := s.Creator.CreatePaymentEvents(ctx, category, target, force)
	if !force && errors.Is(err, ErrDuplicateRecord) {
		result.Skipped = true
		result.SkipReason = fmt.Sprintf("payment events for %q in %s were created by a concurrent run", category.Name, target)
		return result
	}
	if err != nil {
		result.Error = err.Error()
		s.logger().Warn("payment event generation failed",
			slog.String("category", category.Name),
			slog.String("target_month", target.String()),
			slog.Any("error", err))
		return result
	}
	result.EventsCreated = n
	return result
}

// Status computes the next generation date for every eligible category.
func (s *PaymentEventScheduler) Status(ctx context.Context) ([]CategoryStatus, error) {
	categories, err := s.Store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	now := s.clock().Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	eligible := EligibleCategories(categories)
	out := make([]CategoryStatus, 0, len(eligible))
	for _, c := range eligible {
		next := NextGenerationDate(c, today)
		out = append(out, CategoryStatus{
			CategoryID:    c.ID,
			CategoryName:  c.Name,
			DayOfMonth:    c.GenerationDay(),
			MonthlyAmount: c.MonthlyAmount.Decimal.String(),
			NextDate:      next,
			DaysUntil:     int(next.Sub(today).Hours() / 24),
		})
	}
	return out, nil
}

func (s *PaymentEventScheduler) concurrency() int {
	if s.Concurrency <= 0 {
		return 4
	}
	return s.Concurrency
}

func (s *PaymentEventScheduler) clock() Clock {
	if s.Clock == nil {
		return SystemClock{}
	}
	return s.Clock
}

func (s *PaymentEventScheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
