// Package main はジョブ状態APIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/job-tracker/internal/auth"
	"github.com/yourusername/job-tracker/internal/config"
	"github.com/yourusername/job-tracker/internal/database"
	"github.com/yourusername/job-tracker/internal/jobs"
	"github.com/yourusername/job-tracker/internal/logging"
	"github.com/yourusername/job-tracker/internal/ping"
	"github.com/yourusername/job-tracker/internal/taskqueue"
)

func main() {
	// 設定の読み込み
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
		logger.Fatal("api server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		RedisURL: cfg.QueueRedisURL,
		Logger:   logger.Named("asynq"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	redisOpt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpt)
	defer func() { _ = rdb.Close() }()

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

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger.Named("http")))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, routeDeps{
		controller: controller,
		auth:       auth.NewTokenAuth(cfg.APITokenHash),
		logger:     logger.Named("http"),
		queues:     cfg.Queues(),
		checks: map[string]pinger{
			"database": func(ctx context.Context) error { return database.Ping(db.WithContext(ctx)) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down api server")
	return srv.Shutdown(shutdownCtx)
}

type routeDeps struct {
	controller *jobs.Controller
	auth       *auth.TokenAuth
	logger     *zap.Logger
	queues     map[string]int
	checks     map[string]pinger
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, deps routeDeps) {
	router.GET("/health", healthHandler(deps.checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(deps.auth.Require())
	{
		api.GET("/jobs/:type", jobListHandler(deps.controller, deps.logger))
		api.GET("/jobs/:type/:id", jobStatusHandler(deps.controller, deps.logger))
		api.POST("/jobs/:type/:id/revoke", jobRevokeHandler(deps.controller, deps.logger))
		api.POST("/ping", pingEnqueueHandler(deps.controller, deps.queues, deps.logger))
	}
}

// requestLogger はリクエストごとにアクセスログを出力します。
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
