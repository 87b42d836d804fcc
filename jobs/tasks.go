package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/warp/apartment-ledger/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGeneratePaymentEvents runs the payment event scheduler once.
	TaskGeneratePaymentEvents = "payment_events:generate"

	TriggerWorker = "worker"
)

// GeneratePayload is the task body. Both fields are optional.
type GeneratePayload struct {
	TargetMonth string `json:"target_month,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// NewGenerateTask constructs a payment event generation task.
func NewGenerateTask(payload GeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGeneratePaymentEvents, data), nil
}

// Generator is the part of ledger.PaymentEventScheduler the job needs.
type Generator interface {
	Run(ctx context.Context, trigger string, input ledger.GenerateInput) (ledger.GenerationRun, error)
}

// Invalidator drops cached read models after events were created.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// GenerateJob handles TaskGeneratePaymentEvents.
type GenerateJob struct {
	Scheduler Generator
	Cache     Invalidator
	Logger    *slog.Logger
}

func NewGenerateJob(scheduler Generator, cache Invalidator, logger *slog.Logger) *GenerateJob {
	return &GenerateJob{Scheduler: scheduler, Cache: cache, Logger: logger}
}

// Handle processes generation tasks. Malformed payloads are not retried;
// per-category failures are logged and do not fail the task.
func (j *GenerateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scheduler == nil {
		return errors.New("generate payment events: handler not configured")
	}

	var payload GeneratePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	input := ledger.GenerateInput{Force: payload.Force}
	if payload.TargetMonth != "" {
		month, err := ledger.ParseMonthYear(payload.TargetMonth)
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		input.TargetMonth = month
	}

	logger := j.logger().With(slog.Bool("force", input.Force))
	run, err := j.Scheduler.Run(ctx, TriggerWorker, input)
	if err != nil {
		logger.Error("payment event generation failed", slog.String("run_id", run.ID), slog.Any("error", err))
		return err
	}

	for _, res := range run.Results {
		if !res.Success() {
			logger.Warn("category generation failed",
				slog.String("category_id", string(res.CategoryID)),
				slog.String("error", res.Error))
		}
	}
	if run.EventsCreated > 0 && j.Cache != nil {
		if err := j.Cache.Bump(ctx); err != nil {
			logger.Warn("cache invalidation failed", slog.Any("error", err))
		}
	}
	logger.Info("completed payment event generation",
		slog.String("run_id", run.ID),
		slog.String("target_month", run.TargetMonth.String()),
		slog.Int("events_created", run.EventsCreated),
		slog.Int("skipped", run.Skipped),
		slog.Int("failed", run.Failed))
	return nil
}

func (j *GenerateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGeneratePaymentEvents))
	}
	return slog.Default().With(slog.String("job", TaskGeneratePaymentEvents))
}
