package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/internal/cron"
	"github.com/codequesthq/codequest-backend/internal/idempotency"
	"github.com/codequesthq/codequest-backend/internal/plans"
	"github.com/codequesthq/codequest-backend/internal/subscriptions"
	"github.com/codequesthq/codequest-backend/pkg/config"
	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/codequesthq/codequest-backend/pkg/metrics"
	"github.com/codequesthq/codequest-backend/pkg/migrate"
	"github.com/codequesthq/codequest-backend/pkg/redis"
)

const lockKeyFormat = "cq:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	planResolver, err := plans.NewResolver(plans.NewStripePriceClient(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create plan resolver", err)
		os.Exit(1)
	}
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	allotments, err := plans.NewAllotmentSource(subscriptionRepo, planResolver, cfg.Credits.FreeTierMonthlyCredits, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create allotment source", err)
		os.Exit(1)
	}
	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:              credits.NewRepository(dbClient.DB()),
		Allotments:        allotments,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}
	guard, err := idempotency.NewService(idempotency.ServiceParams{
		Repo:      idempotency.NewRepository(dbClient.DB()),
		Logger:    logg,
		Retention: cfg.Credits.IdempotencyRetention(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	resetJob, err := cron.NewCreditResetJob(cron.CreditResetJobParams{
		Logger:  logg,
		Credits: creditsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit reset job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewWebhookRetentionJob(cron.WebhookRetentionJobParams{
		Logger:      logg,
		Idempotency: guard,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(resetJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
