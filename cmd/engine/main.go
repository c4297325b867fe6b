package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/postlane/publish-engine/internal/backend"
	"github.com/postlane/publish-engine/internal/config"
	"github.com/postlane/publish-engine/internal/credit"
	"github.com/postlane/publish-engine/internal/handler"
	"github.com/postlane/publish-engine/internal/infra/postgresql"
	"github.com/postlane/publish-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/postlane/publish-engine/internal/infra/redis"
	"github.com/postlane/publish-engine/internal/media"
	"github.com/postlane/publish-engine/internal/observability"
	"github.com/postlane/publish-engine/internal/repository"
	"github.com/postlane/publish-engine/internal/service"
	"github.com/postlane/publish-engine/internal/transport"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	blobStore, err := media.NewS3Store(context.Background(), media.S3Config{
		AccountID:     cfg.MediaAccountID,
		AccessKey:     cfg.MediaAccessKey,
		SecretKey:     cfg.MediaSecretKey,
		Bucket:        cfg.MediaBucket,
		PublicBaseURL: cfg.MediaPublicBaseURL,
	})
	if err != nil {
		logger.Fatal("blob store initialization failed", zap.Error(err))
	}

	normalizer, err := media.NewNormalizer(blobStore)
	if err != nil {
		logger.Fatal("media normalizer initialization failed", zap.Error(err))
	}

	apiBackend, err := backend.NewAPIBackend(cfg.APIBackendURL, cfg.APIBackendKey)
	if err != nil {
		logger.Fatal("api backend initialization failed", zap.Error(err))
	}
	webhookBackend, err := backend.NewWebhookBackend(cfg.DefaultWebhookURL)
	if err != nil {
		logger.Fatal("webhook backend initialization failed", zap.Error(err))
	}

	gate, err := credit.NewHTTPGate(cfg.CreditServiceURL)
	if err != nil {
		logger.Fatal("credit gate initialization failed", zap.Error(err))
	}

	postRepo := repository.NewGormPostRepo(db)
	retryRepo := repository.NewGormRetryRepo(db)
	logRepo := repository.NewGormLogRepo(db)

	metrics := observability.NewMetrics()

	dispatcher, err := service.NewDispatcher(
		postRepo, retryRepo, logRepo,
		[]backend.Backend{apiBackend, webhookBackend},
		gate, limiter, cfg.DispatchConcurrency, logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	retryRunner, err := service.NewRetryRunner(retryRepo, dispatcher, logger)
	if err != nil {
		logger.Fatal("retry runner initialization failed", zap.Error(err))
	}

	sweeper, err := service.NewSweeper(postRepo, logRepo, logger)
	if err != nil {
		logger.Fatal("sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	reconciler, err := service.NewReconciler(postRepo, logRepo, apiBackend, limiter, logger)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}
	reconciler.SetMetrics(metrics)

	intake, err := service.NewIntake(postRepo, logRepo, normalizer, logger)
	if err != nil {
		logger.Fatal("intake initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.NewPostHandler(intake, postRepo, retryRepo, logRepo).RegisterRoutes(app)
	handler.RegisterTriggerRoutes(app, handler.Runners{
		Dispatcher: dispatcher,
		Retries:    retryRunner,
		Sweeper:    sweeper,
		Reconciler: reconciler,
	})

	if cfg.EmbedScheduler {
		c := cron.New()
		c.AddFunc("@every 00h01m00s", func() { runAndLog(logger, "dispatch", dispatcher.RunDueDispatch) })
		c.AddFunc("@every 00h01m00s", func() { runAndLog(logger, "retries", retryRunner.RunRetries) })
		c.AddFunc("@every 00h05m00s", func() { runAndLog(logger, "sweep", sweeper.RunStuckSweep) })
		c.AddFunc("@every 00h10m00s", func() { runAndLog(logger, "reconcile", reconciler.RunReconciliation) })
		c.Start()
		defer c.Stop()
		logger.Info("embedded scheduler started")
	}

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("publish-engine started", zap.Int("port", cfg.APIPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

func runAndLog(logger *zap.Logger, name string, run func(context.Context) (service.RunSummary, error)) {
	summary, err := run(context.Background())
	if err != nil {
		logger.Error("scheduled run failed", zap.String("runner", name), zap.Error(err))
		return
	}
	logger.Info("scheduled run finished",
		zap.String("runner", name),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
}
