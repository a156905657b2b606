package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codequesthq/codequest-backend/api/controllers"
	billingcontrollers "github.com/codequesthq/codequest-backend/api/controllers/billing"
	webhookcontrollers "github.com/codequesthq/codequest-backend/api/controllers/webhooks"
	"github.com/codequesthq/codequest-backend/api/middleware"
	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/internal/idempotency"
	subscriptionsvc "github.com/codequesthq/codequest-backend/internal/subscriptions"
	"github.com/codequesthq/codequest-backend/internal/users"
	stripewebhook "github.com/codequesthq/codequest-backend/internal/webhooks/stripe"
	"github.com/codequesthq/codequest-backend/pkg/config"
	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/codequesthq/codequest-backend/pkg/metrics"
	"github.com/codequesthq/codequest-backend/pkg/redis"
	"github.com/codequesthq/codequest-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	CreditsService credits.Service
	UsersService   users.Service
	PlanService    subscriptionsvc.Service
	WebhookService *stripewebhook.Service
	WebhookGuard   idempotency.Service
	StripeClient   *stripe.Client
	BillingMetrics *metrics.BillingMetrics
	Registry       *prometheus.Registry
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})
	r.Get("/healthz", controllers.HealthLive(cfg))

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			params.WebhookService,
			params.StripeClient,
			params.WebhookGuard,
			params.BillingMetrics,
			logg,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.UserContext(logg))
		r.Get("/ping", controllers.PrivatePing())

		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", controllers.CreditBalance(params.CreditsService, params.UsersService, logg))
			r.Get("/transactions", controllers.CreditTransactions(params.CreditsService, logg))
			r.Get("/usage", controllers.CreditUsageSummary(params.CreditsService, logg))
			r.Post("/consume", controllers.CreditConsume(params.CreditsService, params.UsersService, params.BillingMetrics, logg))
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/plan-change", billingcontrollers.PlanChange(params.PlanService, logg))
		})
	})

	return r
}
