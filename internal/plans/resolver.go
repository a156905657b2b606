package plans

import (
	"context"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/price"

	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

// Metadata keys the platform sets on Stripe prices/products.
const (
	metadataKeyMonthlyCredits = "monthly_credits"
	metadataKeyPlanName       = "plan_name"
)

// Resolver looks up plan name and monthly credit allotment from the payment
// provider's product metadata. Absent metadata resolves to 0/"" rather than
// an error: the caller treats it as a recoverable unknown-plan state.
type Resolver interface {
	ResolveAllotment(ctx context.Context, priceID string) (int, error)
	ResolveName(ctx context.Context, priceID string) (string, error)
}

// StripePriceClient exposes the subset of Stripe price operations the resolver needs.
type StripePriceClient interface {
	Get(ctx context.Context, id string, params *stripe.PriceParams) (*stripe.Price, error)
}

type stripePriceWrapper struct{}

// NewStripePriceClient wraps the package-level Stripe price API so the resolver can be tested.
func NewStripePriceClient() StripePriceClient {
	return &stripePriceWrapper{}
}

func (w *stripePriceWrapper) Get(ctx context.Context, id string, params *stripe.PriceParams) (*stripe.Price, error) {
	if params == nil {
		params = &stripe.PriceParams{}
	}
	params.Context = ctx
	return price.Get(id, params)
}

type resolver struct {
	prices StripePriceClient
	logg   *logger.Logger
}

// NewResolver wires a Stripe-backed plan resolver.
func NewResolver(prices StripePriceClient, logg *logger.Logger) (Resolver, error) {
	if prices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe price client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &resolver{prices: prices, logg: logg}, nil
}

func (r *resolver) ResolveAllotment(ctx context.Context, priceID string) (int, error) {
	if priceID == "" {
		return 0, nil
	}
	metadata, err := r.loadMetadata(ctx, priceID)
	if err != nil {
		return 0, err
	}
	raw, ok := metadata[metadataKeyMonthlyCredits]
	if !ok {
		r.logg.Warn(r.logg.WithField(ctx, "price_id", priceID), "price has no monthly_credits metadata")
		return 0, nil
	}
	credits, parseErr := strconv.Atoi(raw)
	if parseErr != nil || credits < 0 {
		r.logg.Warn(r.logg.WithField(ctx, "price_id", priceID), "price has malformed monthly_credits metadata")
		return 0, nil
	}
	return credits, nil
}

func (r *resolver) ResolveName(ctx context.Context, priceID string) (string, error) {
	if priceID == "" {
		return "", nil
	}
	metadata, err := r.loadMetadata(ctx, priceID)
	if err != nil {
		return "", err
	}
	if name, ok := metadata[metadataKeyPlanName]; ok {
		return name, nil
	}
	r.logg.Warn(r.logg.WithField(ctx, "price_id", priceID), "price has no plan_name metadata")
	return "", nil
}

// loadMetadata merges product metadata under price metadata, price winning.
func (r *resolver) loadMetadata(ctx context.Context, priceID string) (map[string]string, error) {
	params := &stripe.PriceParams{}
	params.AddExpand("product")
	p, err := r.prices.Get(ctx, priceID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe price")
	}

	merged := map[string]string{}
	if p.Product != nil {
		for k, v := range p.Product.Metadata {
			merged[k] = v
		}
	}
	for k, v := range p.Metadata {
		merged[k] = v
	}
	return merged, nil
}
