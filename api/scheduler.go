/*
scheduler.go - In-process payment event generation

PURPOSE:
  Periodically runs the payment event scheduler so recurring fees are
  generated on their day of month without an external cron. Deployments
  with Redis can use the asynq worker (cmd/worker) instead.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start, then on every tick
  - Each pass is recorded as a GenerationRun with trigger "ticker"
  - A pass may overlap a manual POST /api/payment-events/generate or the
    asynq cron. Unforced events have deterministic IDs, so the slower
    pass gets ErrDuplicateRecord for that category and reports it as
    skipped

USAGE:
  ticker := NewGenerationTicker(scheduler, c, logger)
  ticker.Start()
  // ... later
  ticker.Stop()

SEE ALSO:
  - handlers.go: GeneratePaymentEvents (manual trigger)
  - ledger/scheduler.go: PaymentEventScheduler
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/apartment-ledger/cache"
	"github.com/warp/apartment-ledger/ledger"
)

const TriggerTicker = "ticker"

// GenerationTicker drives PaymentEventScheduler on an interval.
type GenerationTicker struct {
	Scheduler     *ledger.PaymentEventScheduler
	Cache         *cache.Cache
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewGenerationTicker creates a ticker with a one hour interval.
func NewGenerationTicker(scheduler *ledger.PaymentEventScheduler, c *cache.Cache, logger *slog.Logger) *GenerationTicker {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationTicker{
		Scheduler:     scheduler,
		Cache:         c,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the ticker. Calling Start twice is a no-op.
func (gt *GenerationTicker) Start() {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	if !gt.Enabled {
		gt.Logger.Info("generation ticker disabled, not starting")
		return
	}
	if gt.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	gt.cancel = cancel
	gt.wg.Add(1)
	go gt.run(ctx)

	gt.Logger.Info("generation ticker started", slog.Duration("interval", gt.CheckInterval))
}

// Stop stops the ticker and waits for an in-flight pass to finish.
func (gt *GenerationTicker) Stop() {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	if gt.cancel == nil {
		return
	}
	gt.cancel()
	gt.wg.Wait()
	gt.cancel = nil
	gt.Logger.Info("generation ticker stopped")
}

func (gt *GenerationTicker) run(ctx context.Context) {
	defer gt.wg.Done()

	ticker := time.NewTicker(gt.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	gt.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			gt.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one generation pass.
func (gt *GenerationTicker) RunNow(ctx context.Context) ledger.GenerationRun {
	run, err := gt.Scheduler.Run(ctx, TriggerTicker, ledger.GenerateInput{})
	if err != nil {
		gt.Logger.Error("scheduled generation failed", slog.String("run_id", run.ID), slog.Any("error", err))
		return run
	}
	if run.EventsCreated > 0 {
		if err := gt.Cache.Bump(ctx); err != nil {
			gt.Logger.Warn("cache invalidation failed", slog.Any("error", err))
		}
	}
	if run.Failed > 0 {
		gt.Logger.Warn("scheduled generation had failures",
			slog.String("run_id", run.ID), slog.Int("failed", run.Failed))
	}
	return run
}
