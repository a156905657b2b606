package plans

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stripe/stripe-go/v82"

	"github.com/codequesthq/codequest-backend/pkg/logger"
)

type fakePriceClient struct {
	prices map[string]*stripe.Price
	err    error
}

func (f *fakePriceClient) Get(ctx context.Context, id string, params *stripe.PriceParams) (*stripe.Price, error) {
	if f.err != nil {
		return nil, f.err
	}
	price, ok := f.prices[id]
	if !ok {
		return nil, errors.New("no such price")
	}
	return price, nil
}

func newTestResolver(t *testing.T, prices *fakePriceClient) Resolver {
	t.Helper()
	r, err := NewResolver(prices, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}
	return r
}

func TestResolveAllotment_fromPriceMetadata(t *testing.T) {
	prices := &fakePriceClient{prices: map[string]*stripe.Price{
		"price_pro": {
			ID:       "price_pro",
			Metadata: map[string]string{"monthly_credits": "500", "plan_name": "pro"},
		},
	}}
	r := newTestResolver(t, prices)

	credits, err := r.ResolveAllotment(context.Background(), "price_pro")
	if err != nil {
		t.Fatalf("ResolveAllotment error: %v", err)
	}
	if credits != 500 {
		t.Fatalf("credits = %d, want 500", credits)
	}

	name, err := r.ResolveName(context.Background(), "price_pro")
	if err != nil {
		t.Fatalf("ResolveName error: %v", err)
	}
	if name != "pro" {
		t.Fatalf("name = %q, want pro", name)
	}
}

func TestResolveAllotment_priceMetadataOverridesProduct(t *testing.T) {
	prices := &fakePriceClient{prices: map[string]*stripe.Price{
		"price_team": {
			ID:       "price_team",
			Metadata: map[string]string{"monthly_credits": "2000"},
			Product: &stripe.Product{
				Metadata: map[string]string{"monthly_credits": "100", "plan_name": "team"},
			},
		},
	}}
	r := newTestResolver(t, prices)

	credits, err := r.ResolveAllotment(context.Background(), "price_team")
	if err != nil {
		t.Fatalf("ResolveAllotment error: %v", err)
	}
	if credits != 2000 {
		t.Fatalf("credits = %d, want price-level 2000", credits)
	}

	name, err := r.ResolveName(context.Background(), "price_team")
	if err != nil {
		t.Fatalf("ResolveName error: %v", err)
	}
	if name != "team" {
		t.Fatalf("name = %q, want product-level team", name)
	}
}

func TestResolveAllotment_missingOrMalformedMetadataIsZero(t *testing.T) {
	prices := &fakePriceClient{prices: map[string]*stripe.Price{
		"price_bare":   {ID: "price_bare"},
		"price_broken": {ID: "price_broken", Metadata: map[string]string{"monthly_credits": "lots"}},
		"price_neg":    {ID: "price_neg", Metadata: map[string]string{"monthly_credits": "-5"}},
	}}
	r := newTestResolver(t, prices)

	for _, id := range []string{"price_bare", "price_broken", "price_neg"} {
		credits, err := r.ResolveAllotment(context.Background(), id)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", id, err)
		}
		if credits != 0 {
			t.Fatalf("%s: credits = %d, want 0", id, credits)
		}
	}

	name, err := r.ResolveName(context.Background(), "price_bare")
	if err != nil {
		t.Fatalf("ResolveName error: %v", err)
	}
	if name != "" {
		t.Fatalf("name = %q, want empty", name)
	}
}

func TestResolveAllotment_emptyPriceID(t *testing.T) {
	r := newTestResolver(t, &fakePriceClient{})

	credits, err := r.ResolveAllotment(context.Background(), "")
	if err != nil || credits != 0 {
		t.Fatalf("empty price id must resolve to zero: %d %v", credits, err)
	}
}

func TestResolveAllotment_providerErrorPropagates(t *testing.T) {
	r := newTestResolver(t, &fakePriceClient{err: errors.New("rate limited")})

	if _, err := r.ResolveAllotment(context.Background(), "price_pro"); err == nil {
		t.Fatal("expected error")
	}
}
