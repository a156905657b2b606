package plans

import (
	"context"

	"github.com/google/uuid"

	"github.com/codequesthq/codequest-backend/pkg/db/models"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

type subscriptionSource interface {
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// AllotmentSource resolves a user's current monthly allotment: the active
// subscription's plan if one exists, the free tier otherwise.
type AllotmentSource struct {
	subscriptions   subscriptionSource
	resolver        Resolver
	freeTierCredits int
	logg            *logger.Logger
}

// NewAllotmentSource wires the ledger-facing allotment lookup.
func NewAllotmentSource(subscriptions subscriptionSource, resolver Resolver, freeTierCredits int, logg *logger.Logger) (*AllotmentSource, error) {
	if subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription source required")
	}
	if resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan resolver required")
	}
	if freeTierCredits < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "free tier credits must be non-negative")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &AllotmentSource{
		subscriptions:   subscriptions,
		resolver:        resolver,
		freeTierCredits: freeTierCredits,
		logg:            logg,
	}, nil
}

// CurrentAllotment returns the monthly credits the user is entitled to.
// An active subscription whose plan cannot be resolved is an error, never a
// zero allotment: zero would let a routine renewal wipe a paying user's
// balance.
func (a *AllotmentSource) CurrentAllotment(ctx context.Context, userID uuid.UUID) (int, error) {
	sub, err := a.subscriptions.FindActiveByUser(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if sub == nil {
		return a.freeTierCredits, nil
	}
	if sub.MonthlyCredits > 0 {
		return sub.MonthlyCredits, nil
	}
	if sub.PriceID == nil {
		a.logg.Warn(a.logg.WithUserID(ctx, userID.String()), "active subscription has no price id")
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "active subscription has no resolvable plan")
	}
	allotment, err := a.resolver.ResolveAllotment(ctx, *sub.PriceID)
	if err != nil {
		return 0, err
	}
	if allotment <= 0 {
		a.logg.Warn(a.logg.WithUserID(ctx, userID.String()), "subscription price resolves to no allotment")
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "active subscription has no resolvable plan")
	}
	return allotment, nil
}
