package subscriptions

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
)

// metadata key linking provider objects back to platform users.
const metadataKeyUserID = "user_id"

// BuildSubscriptionFromStripe maps a Stripe subscription into the canonical snapshot.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription, userID uuid.UUID, planName string, monthlyCredits int) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status, err := mapStripeStatus(stripeSub.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalid stripe subscription status")
	}

	metadata, err := marshalMetadata(stripeSub.Metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	startTS, endTS := periodFromSubscription(stripeSub)
	return &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: stripeSub.ID,
		StripeCustomerID:     customerIDPtr(stripeSub),
		Status:               status,
		PriceID:              priceIDPtr(stripeSub),
		PlanName:             planName,
		MonthlyCredits:       monthlyCredits,
		CurrentPeriodStart:   toTimePtr(startTS),
		CurrentPeriodEnd:     toTime(endTS),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
		Metadata:             metadata,
	}, nil
}

// UpdateSubscriptionFromStripe mutates the provided snapshot with new Stripe data.
func UpdateSubscriptionFromStripe(target *models.Subscription, stripeSub *stripe.Subscription, planName *string, monthlyCredits *int) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	status, err := mapStripeStatus(stripeSub.Status)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalid stripe subscription status")
	}

	metadata, err := marshalMetadata(stripeSub.Metadata)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	target.StripeSubscriptionID = stripeSub.ID
	target.Status = status
	if customerID := customerIDPtr(stripeSub); customerID != nil {
		target.StripeCustomerID = customerID
	}
	if priceID := priceIDPtr(stripeSub); priceID != nil {
		target.PriceID = priceID
	}
	if planName != nil {
		target.PlanName = *planName
	}
	if monthlyCredits != nil {
		target.MonthlyCredits = *monthlyCredits
	}
	startTS, endTS := periodFromSubscription(stripeSub)
	target.CurrentPeriodStart = toTimePtr(startTS)
	target.CurrentPeriodEnd = toTime(endTS)
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	target.Metadata = metadata
	return nil
}

// UserIDFromMetadata extracts the platform user id a provider object belongs to.
func UserIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw, ok := metadata[metadataKeyUserID]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id metadata missing")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}
	return id, nil
}

func marshalMetadata(metadata map[string]string) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

func priceIDPtr(sub *stripe.Subscription) *string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	if sub.Items.Data[0].Price != nil && sub.Items.Data[0].Price.ID != "" {
		id := sub.Items.Data[0].Price.ID
		return &id
	}
	return nil
}

func customerIDPtr(sub *stripe.Subscription) *string {
	if sub == nil || sub.Customer == nil || sub.Customer.ID == "" {
		return nil
	}
	id := sub.Customer.ID
	return &id
}

// periodFromSubscription reads the billing period off the first item.
func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil {
		return 0, 0
	}
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		if item.CurrentPeriodStart != 0 || item.CurrentPeriodEnd != 0 {
			return item.CurrentPeriodStart, item.CurrentPeriodEnd
		}
	}
	return 0, 0
}

func toTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func mapStripeStatus(raw stripe.SubscriptionStatus) (enums.SubscriptionStatus, error) {
	switch raw {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusActive, nil
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue, nil
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled, nil
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusIncomplete, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeDependency, "unrecognized subscription status "+string(raw))
	}
}
