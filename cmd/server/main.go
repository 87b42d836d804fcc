/*
main.go - API server entry point

PURPOSE:
  Initializes and starts the apartment ledger HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (config.Load)
  2. Open and migrate the SQL store
  3. Load split strategies (STRATEGIES_FILE)
  4. Connect the Redis cache when REDIS_ADDR is set
  5. Build service, scheduler, handler and router
  6. Start the generation ticker and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the generation ticker
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  # In-memory database, no cache
  DB_DSN=":memory:" ./server

  # Postgres with cache and JSON logs
  DB_DRIVER=postgres DB_DSN="postgres://ledger@localhost/ledger?sslmode=disable" \
  REDIS_ADDR=localhost:6379 LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - cmd/worker: Background worker alternative to the ticker
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/apartment-ledger/api"
	"github.com/warp/apartment-ledger/cache"
	"github.com/warp/apartment-ledger/config"
	"github.com/warp/apartment-ledger/factory"
	"github.com/warp/apartment-ledger/ledger"
	"github.com/warp/apartment-ledger/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlstore.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	registry, err := factory.NewStrategyFactory().LoadRegistry(cfg.StrategiesFile)
	if err != nil {
		logger.Error("load split strategies", slog.Any("error", err))
		os.Exit(1)
	}

	var readCache *cache.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		readCache = cache.New(redisClient, cfg.CacheTTL)
		if err := readCache.Ping(context.Background()); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
	}

	svc := ledger.NewService(store, ledger.NewSplitCalculator(registry))
	scheduler := ledger.NewPaymentEventScheduler(store, ledger.NewApartmentEventCreator(store, ledger.SystemClock{}), ledger.SystemClock{}, logger)
	scheduler.Runs = store
	scheduler.Concurrency = cfg.SchedulerConcurrency

	handler := api.NewHandler(svc, scheduler, readCache, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		RateLimit:  cfg.RateLimit,
		Production: cfg.IsProduction(),
	})

	ticker := api.NewGenerationTicker(scheduler, readCache, logger)
	ticker.CheckInterval = cfg.SchedulerInterval
	ticker.Enabled = cfg.SchedulerEnabled
	ticker.Start()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ticker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped")
}
