package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/internal/plans"
	"github.com/codequesthq/codequest-backend/internal/subscriptions"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

type creditLedger interface {
	SetAbsolute(ctx context.Context, input credits.SetAbsoluteInput) (*models.CreditAccount, error)
	RefreshForNewPeriod(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
}

type userDirectory interface {
	EnsureInitialized(ctx context.Context, userID uuid.UUID) (*models.User, error)
	ResolveByCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	SubscriptionRepo  subscriptions.Repository
	Users             userDirectory
	Credits           creditLedger
	Plans             plans.Resolver
	StripeClient      subscriptions.StripeSubscriptionClient
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service drives the subscription lifecycle off the provider's webhook feed.
// Handlers must tolerate redelivery: every credit mutation they perform goes
// through SetAbsolute or RefreshForNewPeriod so a replay converges on the same
// balance instead of granting twice.
type Service struct {
	subRepo  subscriptions.Repository
	users    userDirectory
	credits  creditLedger
	plans    plans.Resolver
	stripe   subscriptions.StripeSubscriptionClient
	txRunner txRunner
	logger   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.SubscriptionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user directory required")
	}
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan resolver required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		subRepo:  params.SubscriptionRepo,
		users:    params.Users,
		credits:  params.Credits,
		plans:    params.Plans,
		stripe:   params.StripeClient,
		txRunner: params.TransactionRunner,
		logger:   params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logger.WithField(ctx, "stripe_event_id", event.ID)
	ctx = s.logger.WithField(ctx, "stripe_event_type", string(event.Type))

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionCreated(ctx, stripeSub)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionUpdated(ctx, stripeSub)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionDeleted(ctx, stripeSub)
	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		// No ledger mutation. Dunning policy lives with the provider.
		s.logger.Warn(ctx, "invoice payment failed, no credit change applied")
		return nil
	default:
		return nil
	}
}

// handleSubscriptionCreated classifies a fresh provider subscription. A
// subscription materialized by a downgrade schedule is deliberately skipped:
// applying its (cheaper) allotment here would strip credits before the paid
// period ends. The invoice event at the billing boundary carries the same
// plan-change metadata and applies the change then.
func (s *Service) handleSubscriptionCreated(ctx context.Context, stripeSub *stripe.Subscription) error {
	meta := subscriptions.ParsePlanChangeMetadata(stripeSub.Metadata)
	if meta.FromSchedule || stripeSub.Schedule != nil {
		s.logger.Info(ctx, "schedule-derived subscription created, deferring credit change to billing boundary")
		return nil
	}

	user, err := s.resolveUser(ctx, stripeSub)
	if err != nil {
		return err
	}
	ctx = s.logger.WithUserID(ctx, user.ID.String())

	planName, planCredits := s.resolvePlan(ctx, stripeSub)

	if _, err := s.syncSnapshot(ctx, stripeSub, user.ID, planName, planCredits); err != nil {
		return err
	}

	switch {
	case meta.IsPlanChange && planCredits > meta.PreviousMonthlyCredits:
		// Upgrade: grant the higher allotment immediately and consume the
		// plan-change flags so the cycle's invoice event is a plain renewal.
		if err := s.applyAllotment(ctx, user.ID, planCredits, planName, "upgrade", meta.PreviousPlanName); err != nil {
			return err
		}
		s.clearProviderFlags(ctx, stripeSub.ID)
	case meta.IsPlanChange && planCredits < meta.PreviousMonthlyCredits:
		// Downgrade at creation time: plan identity changes now but the user
		// keeps their current credits until the old plan's period truly ends.
		s.logger.Info(ctx, "downgrade recorded, credits unchanged until period boundary")
	case meta.IsPlanChange:
		s.logger.Info(ctx, "lateral plan change, credits unchanged")
	default:
		if _, err := s.credits.RefreshForNewPeriod(ctx, user.ID); err != nil {
			return err
		}
	}

	s.cancelOtherSubscriptions(ctx, stripeSub)
	return nil
}

// handleSubscriptionUpdated resyncs the snapshot and refreshes the allotment.
// Deferred changes never ride on updated events, so applying immediately is safe.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, stripeSub *stripe.Subscription) error {
	user, err := s.resolveUser(ctx, stripeSub)
	if err != nil {
		return err
	}
	ctx = s.logger.WithUserID(ctx, user.ID.String())

	planName, planCredits := s.resolvePlan(ctx, stripeSub)
	if _, err := s.syncSnapshot(ctx, stripeSub, user.ID, planName, planCredits); err != nil {
		return err
	}
	if _, err := s.credits.RefreshForNewPeriod(ctx, user.ID); err != nil {
		return err
	}
	return nil
}

// handleSubscriptionDeleted marks the snapshot canceled. Credits are retained:
// the downgrade to the free tier happens through the next renewal cycle, not here.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, stripeSub *stripe.Subscription) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subRepo.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription snapshot")
		}
		if stored == nil {
			s.logger.Warn(ctx, "deleted event for unknown subscription, ignoring")
			return nil
		}
		if err := subscriptions.UpdateSubscriptionFromStripe(stored, stripeSub, nil, nil); err != nil {
			return err
		}
		stored.Status = enums.SubscriptionStatusCanceled
		return repo.Update(ctx, stored)
	})
}

// handleInvoicePaid is where deferred plan changes land. The underlying
// subscription's metadata tells us whether this billing boundary carries a
// pending upgrade or downgrade; otherwise it is a plain renewal.
func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	subscriptionID := invoiceSubscriptionID(event)
	if subscriptionID == "" {
		// One-off invoice with no subscription attached.
		return nil
	}

	stripeSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}

	user, err := s.resolveUser(ctx, stripeSub)
	if err != nil {
		return err
	}
	ctx = s.logger.WithUserID(ctx, user.ID.String())

	meta := subscriptions.ParsePlanChangeMetadata(stripeSub.Metadata)
	planName, planCredits := s.resolvePlan(ctx, stripeSub)

	stored, err := s.syncSnapshot(ctx, stripeSub, user.ID, planName, planCredits)
	if err != nil {
		return err
	}

	if !meta.IsPlanChange {
		_, err := s.credits.RefreshForNewPeriod(ctx, user.ID)
		return err
	}

	reason := "upgrade"
	if meta.IsDowngrade || planCredits < meta.PreviousMonthlyCredits {
		reason = "downgrade"
	}
	if planCredits != meta.PreviousMonthlyCredits {
		if err := s.applyAllotment(ctx, user.ID, planCredits, planName, reason, meta.PreviousPlanName); err != nil {
			return err
		}
	}
	s.clearProviderFlags(ctx, stripeSub.ID)
	s.clearPendingPlanChange(ctx, stored)
	return nil
}

func (s *Service) resolveUser(ctx context.Context, stripeSub *stripe.Subscription) (*models.User, error) {
	if userID, err := subscriptions.UserIDFromMetadata(stripeSub.Metadata); err == nil {
		return s.users.EnsureInitialized(ctx, userID)
	}
	if stripeSub.Customer == nil || stripeSub.Customer.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription carries neither user_id metadata nor a customer")
	}
	user, err := s.users.ResolveByCustomerID(ctx, stripeSub.Customer.ID)
	if err != nil {
		return nil, err
	}
	return s.users.EnsureInitialized(ctx, user.ID)
}

// resolvePlan looks up the plan name and allotment for the subscription's
// price. An unknown plan resolves to ""/0 and is logged for operators rather
// than failing the event.
func (s *Service) resolvePlan(ctx context.Context, stripeSub *stripe.Subscription) (string, int) {
	priceID := subscriptionPriceID(stripeSub)
	if priceID == "" {
		s.logger.Warn(ctx, "subscription has no price, treating as unknown plan")
		return "", 0
	}
	planName, err := s.plans.ResolveName(ctx, priceID)
	if err != nil {
		s.logger.Error(ctx, "resolve plan name", err)
	}
	planCredits, err := s.plans.ResolveAllotment(ctx, priceID)
	if err != nil {
		s.logger.Error(ctx, "resolve plan allotment", err)
	}
	if planName == "" && planCredits == 0 {
		s.logger.Warn(ctx, "unknown plan for price "+priceID)
	}
	return planName, planCredits
}

func (s *Service) syncSnapshot(ctx context.Context, stripeSub *stripe.Subscription, userID uuid.UUID, planName string, planCredits int) (*models.Subscription, error) {
	var synced *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.subRepo.WithTx(tx)
		stored, err := repo.FindByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription snapshot")
		}
		if stored == nil {
			built, buildErr := subscriptions.BuildSubscriptionFromStripe(stripeSub, userID, planName, planCredits)
			if buildErr != nil {
				return buildErr
			}
			if err := repo.Create(ctx, built); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription snapshot")
			}
			synced = built
			return nil
		}
		if err := subscriptions.UpdateSubscriptionFromStripe(stored, stripeSub, &planName, &planCredits); err != nil {
			return err
		}
		if err := repo.Update(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription snapshot")
		}
		synced = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return synced, nil
}

// applyAllotment converges the balance onto the new plan's allotment.
func (s *Service) applyAllotment(ctx context.Context, userID uuid.UUID, allotment int, planName, reason, previousPlan string) error {
	metadata, err := json.Marshal(map[string]string{
		"reason":        reason,
		"plan":          planName,
		"previous_plan": previousPlan,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal transaction metadata")
	}
	_, err = s.credits.SetAbsolute(ctx, credits.SetAbsoluteInput{
		UserID:        userID,
		TargetCredits: allotment,
		Type:          enums.CreditTransactionTypeSubscription,
		Metadata:      metadata,
		MarkReset:     true,
	})
	return err
}

// clearProviderFlags consumes the plan-change metadata on the provider
// subscription so the next event for this cycle reads as a plain renewal.
// Best effort: if it fails, a replay re-applies the same absolute target.
func (s *Service) clearProviderFlags(ctx context.Context, stripeSubscriptionID string) {
	params := &stripe.SubscriptionParams{}
	for key, value := range subscriptions.ClearedPlanChangeMetadata() {
		params.AddMetadata(key, value)
	}
	if _, err := s.stripe.Update(ctx, stripeSubscriptionID, params); err != nil {
		s.logger.Error(ctx, "clear plan-change metadata on provider", err)
	}
}

func (s *Service) clearPendingPlanChange(ctx context.Context, stored *models.Subscription) {
	if stored == nil || !stored.HasPendingPlanChange() {
		return
	}
	stored.PendingPlanName = nil
	stored.PendingPlanCredits = nil
	stored.PendingPlanEffective = nil
	if err := s.subRepo.Update(ctx, stored); err != nil {
		s.logger.Error(ctx, "clear pending plan change on snapshot", err)
	}
}

// cancelOtherSubscriptions enforces the one-active-subscription rule after a
// plan change or resubscription. Failures are logged, not fatal: the snapshot
// for this event is already committed and the provider retries nothing here.
func (s *Service) cancelOtherSubscriptions(ctx context.Context, stripeSub *stripe.Subscription) {
	if stripeSub.Customer == nil || stripeSub.Customer.ID == "" {
		return
	}
	others, err := s.subRepo.ListActiveByCustomer(ctx, stripeSub.Customer.ID)
	if err != nil {
		s.logger.Error(ctx, "list active subscriptions for customer", err)
		return
	}
	for i := range others {
		other := &others[i]
		if other.StripeSubscriptionID == stripeSub.ID {
			continue
		}
		if _, err := s.stripe.Cancel(ctx, other.StripeSubscriptionID, &stripe.SubscriptionCancelParams{}); err != nil {
			s.logger.Error(ctx, "cancel superseded subscription "+other.StripeSubscriptionID, err)
			continue
		}
		other.Status = enums.SubscriptionStatusCanceled
		if err := s.subRepo.Update(ctx, other); err != nil {
			s.logger.Error(ctx, "mark superseded subscription canceled", err)
		}
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}
	return &stripeSub, nil
}

func invoiceSubscriptionID(event *stripe.Event) string {
	if id := event.GetObjectValue("subscription"); id != "" {
		return id
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price != nil {
		return sub.Items.Data[0].Price.ID
	}
	return ""
}
