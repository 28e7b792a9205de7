package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyco/notify-engine/internal/config"
	"github.com/notifyco/notify-engine/internal/domain"
	"github.com/notifyco/notify-engine/internal/handler"
	"github.com/notifyco/notify-engine/internal/infra/postgresql"
	"github.com/notifyco/notify-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/notifyco/notify-engine/internal/infra/redis"
	"github.com/notifyco/notify-engine/internal/middleware"
	"github.com/notifyco/notify-engine/internal/observability"
	"github.com/notifyco/notify-engine/internal/provider"
	"github.com/notifyco/notify-engine/internal/queue"
	"github.com/notifyco/notify-engine/internal/repository"
	"github.com/notifyco/notify-engine/internal/service"
	"github.com/notifyco/notify-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notify-engine exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	jobRepo := repository.NewGormJobRepo(db)
	logRepo := repository.NewGormDeliveryLogRepo(db)
	customerRepo := repository.NewGormCustomerRepo(db)

	metrics := observability.NewMetrics()

	jobService, err := service.NewJobService(jobRepo, logRepo, publisher, logger)
	if err != nil {
		return fmt.Errorf("job service initialization failed: %w", err)
	}
	jobService.SetMetrics(metrics)

	mailProvider, err := provider.NewMailProvider(cfg.MailAPIURL, cfg.MailAPIKey)
	if err != nil {
		return fmt.Errorf("mail provider initialization failed: %w", err)
	}
	webhookProvider := provider.NewWebhookProvider(time.Duration(cfg.WebhookTimeoutSec) * time.Second)

	providers := map[domain.JobType]provider.Provider{
		domain.TypeEmail:   mailProvider,
		domain.TypeWebhook: webhookProvider,
	}

	workerService, err := service.NewWorkerService(
		jobRepo,
		logRepo,
		customerRepo,
		consumer,
		publisher,
		providers,
		rateLimiter,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		return fmt.Errorf("worker service initialization failed: %w", err)
	}
	workerService.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(
		jobRepo,
		publisher,
		time.Duration(cfg.RetryScanIntervalSec)*time.Second,
		logger,
	)
	if err != nil {
		return fmt.Errorf("retry scanner initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "notify-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)

	api := app.Group("/", middleware.Admission(customerRepo, rateLimiter, logger))
	if err := handler.RegisterJobRoutes(api, jobService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsHandler(metrics),
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http api listening", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http api failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("metrics listening", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return workerService.Start(groupCtx)
	})

	g.Go(func() error {
		err := retryScanner.Start(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http api shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("notify-engine stopped")
	return nil
}

func metricsHandler(metrics *observability.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
