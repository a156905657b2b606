package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionschedule"

	pkgstripe "github.com/codequesthq/codequest-backend/pkg/stripe"
)

// StripeSubscriptionClient exposes the subset of Stripe subscription operations
// required by the lifecycle handlers.
type StripeSubscriptionClient interface {
	Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
}

// StripeScheduleClient exposes the schedule operations used for deferred downgrades.
type StripeScheduleClient interface {
	New(ctx context.Context, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error)
	Update(ctx context.Context, id string, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the subscription service can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (w *stripeClientWrapper) Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscription.Update(id, params)
}

func (w *stripeClientWrapper) Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscription.Cancel(id, params)
}

type stripeScheduleWrapper struct{}

// NewStripeScheduleClient wraps the schedule API so deferred downgrades can be tested.
func NewStripeScheduleClient(api *pkgstripe.Client) StripeScheduleClient {
	if api == nil {
		return nil
	}
	return &stripeScheduleWrapper{}
}

func (w *stripeScheduleWrapper) New(ctx context.Context, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscriptionschedule.New(params)
}

func (w *stripeScheduleWrapper) Update(ctx context.Context, id string, params *stripe.SubscriptionScheduleParams) (*stripe.SubscriptionSchedule, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscriptionschedule.Update(id, params)
}
