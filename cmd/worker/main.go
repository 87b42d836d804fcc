// Command worker runs payment event generation from an asynq queue, with a
// daily cron entry (WORKER_CRON). Use it instead of the API server's
// in-process ticker when several API replicas share one database.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/warp/apartment-ledger/cache"
	"github.com/warp/apartment-ledger/config"
	"github.com/warp/apartment-ledger/jobs"
	"github.com/warp/apartment-ledger/ledger"
	"github.com/warp/apartment-ledger/store/sqlstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	readCache := cache.New(redisClient, cfg.CacheTTL)

	scheduler := ledger.NewPaymentEventScheduler(store, ledger.NewApartmentEventCreator(store, ledger.SystemClock{}), ledger.SystemClock{}, logger)
	scheduler.Runs = store
	scheduler.Concurrency = cfg.SchedulerConcurrency
	generateJob := jobs.NewGenerateJob(scheduler, readCache, logger)

	generateTask, err := jobs.NewGenerateTask(jobs.GeneratePayload{})
	if err != nil {
		logger.Error("build generate task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGeneratePaymentEvents, Handler: generateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WorkerCron, Task: generateTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
