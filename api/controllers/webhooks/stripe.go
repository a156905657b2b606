package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/codequesthq/codequest-backend/api/responses"
	"github.com/codequesthq/codequest-backend/internal/idempotency"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/codequesthq/codequest-backend/pkg/metrics"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	BeginProcessing(ctx context.Context, key, eventID, eventType string) error
	Complete(ctx context.Context, key string) error
	Fail(ctx context.Context, key string, handlerErr error) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook handles Stripe subscription lifecycle events. Ordering per
// event: verify signature, durable idempotency gate, state machine, guard
// completion. A gate-duplicate returns 200 so the provider stops redelivering;
// a handler failure leaves the record failed and returns the error, since the
// provider only redelivers on a non-2xx response and redelivery is the retry
// mechanism.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, billingMetrics *metrics.BillingMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature"))
			return
		}

		key := idempotency.Key(event.ID)
		if logg != nil {
			ctx = logg.WithField(ctx, "stripe_event_id", event.ID)
			ctx = logg.WithField(ctx, "stripe_event_type", string(event.Type))
		}

		processed, err := guard.IsProcessed(ctx, key)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if processed {
			billingMetrics.IncWebhookDuplicate()
			if logg != nil {
				logg.Info(ctx, "duplicate stripe event suppressed")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		if err := guard.BeginProcessing(ctx, key, event.ID, string(event.Type)); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark event processing"))
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			_ = guard.Fail(ctx, key, err)
			billingMetrics.IncWebhookFailed(string(event.Type))
			responses.WriteError(ctx, logg, w, err)
			return
		}

		_ = guard.Complete(ctx, key)
		billingMetrics.IncWebhookProcessed(string(event.Type))
		if logg != nil {
			logg.Info(ctx, "stripe event processed")
		}
		responses.WriteSuccess(w, nil)
	}
}
