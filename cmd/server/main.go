package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/api"
	"github.com/Priya8975/webhook-stream-engine/internal/config"
	"github.com/Priya8975/webhook-stream-engine/internal/core"
	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/engine"
	"github.com/Priya8975/webhook-stream-engine/internal/ledger"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/Priya8975/webhook-stream-engine/internal/queue"
	"github.com/Priya8975/webhook-stream-engine/internal/store"
	"github.com/Priya8975/webhook-stream-engine/internal/stream"
	"github.com/Priya8975/webhook-stream-engine/internal/telemetry"
	"github.com/Priya8975/webhook-stream-engine/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const serviceName = "webhook-stream-engine"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: api.Version,
		Insecure:       true,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// PostgreSQL is optional: without it subscriptions live in memory only
	// and there is no delivery archive.
	var (
		subStore   engine.SubscriptionStore
		archive    api.Archive
		attemptLog worker.Archive
		pruner     *cron.Cron
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		if err := pgStore.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")

		pruner, err = startPruner(cfg.PruneSchedule, cfg.LedgerMaxAge, pgStore, logger)
		if err != nil {
			logger.Error("failed to schedule archive pruning", "error", err)
			os.Exit(1)
		}

		subStore, archive, attemptLog = pgStore, pgStore, pgStore
	} else {
		logger.Warn("DATABASE_URL not set, subscriptions will not survive a restart")
	}

	var q queue.Queue
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		logger.Info("connected to Redis")
		q = queue.NewRedisQueue(rdb, cfg.RedisQueueKey)
	} else {
		logger.Info("REDIS_URL not set, using in-memory delivery queue")
	}

	policy := engine.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	engineCore := core.New(core.Options{
		EventTypes: append(append([]string(nil), domain.DefaultEventTypes...), cfg.ExtraEventTypes...),
		Policy:     policy,
		Ledger:     ledger.Config{MaxEntries: cfg.LedgerMaxEntries, MaxAge: cfg.LedgerMaxAge},
		Stream:     stream.Config{QueueSize: cfg.StreamQueueSize, RecentSize: cfg.StreamRecentSize},
		Queue:      q,
		Store:      subStore,
		Metrics:    m,
	}, logger)
	if err := engineCore.Load(ctx); err != nil {
		logger.Error("failed to load subscriptions", "error", err)
		os.Exit(1)
	}

	deliverer := worker.NewDeliverer(worker.DelivererConfig{
		Subscriptions: engineCore.Registry(),
		Ledger:        engineCore.Ledger(),
		Queue:         engineCore.Queue(),
		Policy:        policy,
		Timeout:       cfg.AttemptTimeout,
		Archive:       attemptLog,
		Metrics:       m,
	}, logger)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	pool.Start(workerCtx)
	dispatcher := worker.NewDispatcher(engineCore.Queue(), pool, cfg.PollInterval, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(engineCore, m, archive, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Start(workerCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "workers", cfg.NumWorkers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-gctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stream handlers only return once their subscriber is closed.
	engineCore.Hub().Close()

	exitCode := 0
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}

	// In-flight calls run to completion; queued jobs stay queued.
	cancelWorkers()
	pool.Stop()

	if err := g.Wait(); err != nil {
		logger.Error("background task failed", "error", err)
		exitCode = 1
	}

	if pruner != nil {
		<-pruner.Stop().Done()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// startPruner deletes archived attempts older than retention on schedule.
func startPruner(schedule string, retention time.Duration, pgStore *store.PostgresStore, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		deleted, err := pgStore.PruneDeliveryAttempts(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("failed to prune delivery archive", "error", err)
			return
		}
		logger.Info("pruned delivery archive", "deleted", deleted, "retention", retention.String())
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling prune %q: %w", schedule, err)
	}

	c.Start()
	return c, nil
}
