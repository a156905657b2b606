package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codequesthq/codequest-backend/api/routes"
	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/internal/idempotency"
	"github.com/codequesthq/codequest-backend/internal/plans"
	"github.com/codequesthq/codequest-backend/internal/subscriptions"
	"github.com/codequesthq/codequest-backend/internal/users"
	stripewebhook "github.com/codequesthq/codequest-backend/internal/webhooks/stripe"
	"github.com/codequesthq/codequest-backend/pkg/config"
	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/codequesthq/codequest-backend/pkg/metrics"
	"github.com/codequesthq/codequest-backend/pkg/migrate"
	"github.com/codequesthq/codequest-backend/pkg/redis"
	pkgstripe "github.com/codequesthq/codequest-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())

	planResolver, err := plans.NewResolver(plans.NewStripePriceClient(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create plan resolver", err)
		os.Exit(1)
	}
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

	usersService, err := users.NewService(users.ServiceParams{
		Repo:            users.NewRepository(dbClient.DB()),
		Credits:         creditsService,
		FreeTierCredits: cfg.Credits.FreeTierMonthlyCredits,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create users service", err)
		os.Exit(1)
	}

	planService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:      subscriptionRepo,
		Resolver:  planResolver,
		Stripe:    subscriptions.NewStripeClient(stripeClient),
		Schedules: subscriptions.NewStripeScheduleClient(stripeClient),
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
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

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		SubscriptionRepo:  subscriptionRepo,
		Users:             usersService,
		Credits:           creditsService,
		Plans:             planResolver,
		StripeClient:      subscriptions.NewStripeClient(stripeClient),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			CreditsService: creditsService,
			UsersService:   usersService,
			PlanService:    planService,
			WebhookService: webhookService,
			WebhookGuard:   guard,
			StripeClient:   stripeClient,
			BillingMetrics: billingMetrics,
			Registry:       registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
