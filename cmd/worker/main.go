// Package main は Asynq ワーカープロセスのエントリーポイントです。
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/job-tracker/internal/config"
	"github.com/yourusername/job-tracker/internal/database"
	"github.com/yourusername/job-tracker/internal/jobs"
	"github.com/yourusername/job-tracker/internal/logging"
	"github.com/yourusername/job-tracker/internal/ping"
	"github.com/yourusername/job-tracker/internal/taskqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.GinMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ブローカーに届かない状態で起動しても処理できないため先に確認する
	redisOpt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	_ = rdb.Close()
	if err != nil {
		return fmt.Errorf("redis is not reachable: %w", err)
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	store := jobs.NewGormStore(db)
	if err := store.Migrate(ping.Models()...); err != nil {
		return err
	}

	queue, err := taskqueue.NewAsynq(taskqueue.AsynqConfig{
		RedisURL:    cfg.QueueRedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Queues:      cfg.Queues(),
		Logger:      logger.Named("asynq"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	controller, err := jobs.NewController(store, queue,
		jobs.WithLogger(logger.Named("jobs")),
		jobs.WithMetrics(jobs.NewMetrics(prometheus.DefaultRegisterer)),
		jobs.WithDefaultQueue(cfg.QueueDefault),
	)
	if err != nil {
		return err
	}
	if _, err := ping.Register(controller, store); err != nil {
		return err
	}
	controller.Seal()

	queues := cfg.Queues()
	for _, route := range controller.Registry().Routes() {
		if _, ok := queues[route]; !ok {
			logger.Warn("handler route is not consumed by this worker", zap.String("route", route))
		}
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("worker starting",
		zap.Strings("job_types", controller.TypeNames()),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)
	return queue.Run(ctx)
}
