package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/codequesthq/codequest-backend/internal/plans"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

// PlanChangeKind classifies a requested plan change by comparing allotments.
type PlanChangeKind string

const (
	PlanChangeUpgrade   PlanChangeKind = "upgrade"
	PlanChangeDowngrade PlanChangeKind = "downgrade"
	PlanChangeLateral   PlanChangeKind = "lateral"
)

// ChangePlanResult reports what the plan change request produced.
type ChangePlanResult struct {
	Kind           PlanChangeKind `json:"kind"`
	PlanName       string         `json:"plan_name"`
	MonthlyCredits int            `json:"monthly_credits"`
	EffectiveAt    *time.Time     `json:"effective_at,omitempty"`
}

// Service drives plan changes against the payment provider. Upgrades apply
// immediately; downgrades become a two-phase provider schedule whose credit
// effect lands at the next billing boundary.
type Service interface {
	ChangePlan(ctx context.Context, userID uuid.UUID, newPriceID string) (*ChangePlanResult, error)
}

// ServiceParams wires the subscription service dependencies.
type ServiceParams struct {
	Repo      Repository
	Resolver  plans.Resolver
	Stripe    StripeSubscriptionClient
	Schedules StripeScheduleClient
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	resolver  plans.Resolver
	stripe    StripeSubscriptionClient
	schedules StripeScheduleClient
	logg      *logger.Logger
}

// NewService wires a subscription plan-change service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscriptions repo required")
	}
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan resolver required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Schedules == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe schedule client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:      params.Repo,
		resolver:  params.Resolver,
		stripe:    params.Stripe,
		schedules: params.Schedules,
		logg:      params.Logger,
	}, nil
}

func (s *service) ChangePlan(ctx context.Context, userID uuid.UUID, newPriceID string) (*ChangePlanResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if newPriceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price id is required")
	}

	current, err := s.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}
	if current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no active subscription to change")
	}
	if current.PriceID != nil && *current.PriceID == newPriceID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already on requested plan")
	}

	newCredits, err := s.resolver.ResolveAllotment(ctx, newPriceID)
	if err != nil {
		return nil, err
	}
	newName, err := s.resolver.ResolveName(ctx, newPriceID)
	if err != nil {
		return nil, err
	}
	if newCredits == 0 && newName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan for requested price")
	}

	previous := PlanChangeMetadata{
		PreviousPlanName:       current.PlanName,
		PreviousMonthlyCredits: current.MonthlyCredits,
		IsPlanChange:           true,
		OldSubscriptionID:      current.StripeSubscriptionID,
	}

	switch {
	case newCredits > current.MonthlyCredits:
		return s.applyUpgrade(ctx, current, newPriceID, newName, newCredits, previous)
	case newCredits < current.MonthlyCredits:
		return s.scheduleDowngrade(ctx, current, newPriceID, newName, newCredits, previous)
	default:
		return s.applyLateral(ctx, current, newPriceID, newName, newCredits, previous)
	}
}

// applyUpgrade swaps the price in place; the resulting provider events carry
// the previous-plan context so the webhook handlers grant the higher allotment
// exactly once.
func (s *service) applyUpgrade(ctx context.Context, current *models.Subscription, newPriceID, newName string, newCredits int, meta PlanChangeMetadata) (*ChangePlanResult, error) {
	stripeSub, err := s.stripe.Get(ctx, current.StripeSubscriptionID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription has no items")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(stripeSub.Items.Data[0].ID),
			Price: stripe.String(newPriceID),
		}},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	for key, value := range meta.ToMap() {
		params.AddMetadata(key, value)
	}
	if _, err := s.stripe.Update(ctx, current.StripeSubscriptionID, params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stripe subscription")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":  current.UserID.String(),
		"price_id": newPriceID,
	}), "plan upgrade requested")

	return &ChangePlanResult{
		Kind:           PlanChangeUpgrade,
		PlanName:       newName,
		MonthlyCredits: newCredits,
	}, nil
}

// scheduleDowngrade builds the two-phase schedule: phase 1 keeps the current
// price until the period ends, phase 2 runs the cheaper price for one cycle
// and releases. Credits stay untouched until the boundary invoice fires.
func (s *service) scheduleDowngrade(ctx context.Context, current *models.Subscription, newPriceID, newName string, newCredits int, meta PlanChangeMetadata) (*ChangePlanResult, error) {
	if current.PriceID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "current subscription has no price")
	}
	meta.IsDowngrade = true
	meta.FromSchedule = true

	schedule, err := s.schedules.New(ctx, &stripe.SubscriptionScheduleParams{
		FromSubscription: stripe.String(current.StripeSubscriptionID),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription schedule")
	}

	periodEnd := current.CurrentPeriodEnd.UTC()
	update := &stripe.SubscriptionScheduleParams{
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{{
					Price:    stripe.String(*current.PriceID),
					Quantity: stripe.Int64(1),
				}},
				EndDate: stripe.Int64(periodEnd.Unix()),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{{
					Price:    stripe.String(newPriceID),
					Quantity: stripe.Int64(1),
				}},
				Iterations: stripe.Int64(1),
				Metadata:   meta.ToMap(),
			},
		},
	}
	for key, value := range meta.ToMap() {
		update.AddMetadata(key, value)
	}
	if _, err := s.schedules.Update(ctx, schedule.ID, update); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "configure subscription schedule")
	}

	current.PendingPlanName = &newName
	current.PendingPlanCredits = &newCredits
	current.PendingPlanEffective = &periodEnd
	if err := s.repo.Update(ctx, current); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pending plan change")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":      current.UserID.String(),
		"price_id":     newPriceID,
		"effective_at": periodEnd,
	}), "plan downgrade scheduled")

	return &ChangePlanResult{
		Kind:           PlanChangeDowngrade,
		PlanName:       newName,
		MonthlyCredits: newCredits,
		EffectiveAt:    &periodEnd,
	}, nil
}

// applyLateral swaps the price with no credit effect: same allotment, new name.
func (s *service) applyLateral(ctx context.Context, current *models.Subscription, newPriceID, newName string, newCredits int, meta PlanChangeMetadata) (*ChangePlanResult, error) {
	stripeSub, err := s.stripe.Get(ctx, current.StripeSubscriptionID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription has no items")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(stripeSub.Items.Data[0].ID),
			Price: stripe.String(newPriceID),
		}},
		ProrationBehavior: stripe.String("none"),
	}
	if _, err := s.stripe.Update(ctx, current.StripeSubscriptionID, params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stripe subscription")
	}

	current.PlanName = newName
	priceID := newPriceID
	current.PriceID = &priceID
	if err := s.repo.Update(ctx, current); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription snapshot")
	}

	return &ChangePlanResult{
		Kind:           PlanChangeLateral,
		PlanName:       newName,
		MonthlyCredits: newCredits,
	}, nil
}
