package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/codequesthq/codequest-backend/pkg/enums"
)

func stripeSubFixture() *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_123",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_123"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				ID:                 "si_1",
				Price:              &stripe.Price{ID: "price_pro"},
				CurrentPeriodStart: 1767225600,
				CurrentPeriodEnd:   1769904000,
			}},
		},
		Metadata: map[string]string{"user_id": "ignored-here"},
	}
}

func TestBuildSubscriptionFromStripe(t *testing.T) {
	userID := uuid.New()
	sub, err := BuildSubscriptionFromStripe(stripeSubFixture(), userID, "pro", 500)
	if err != nil {
		t.Fatalf("BuildSubscriptionFromStripe error: %v", err)
	}

	if sub.UserID != userID || sub.StripeSubscriptionID != "sub_123" {
		t.Fatalf("identity fields wrong: %+v", sub)
	}
	if sub.StripeCustomerID == nil || *sub.StripeCustomerID != "cus_123" {
		t.Fatalf("customer id wrong: %+v", sub.StripeCustomerID)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status = %s", sub.Status)
	}
	if sub.PriceID == nil || *sub.PriceID != "price_pro" {
		t.Fatalf("price id wrong: %+v", sub.PriceID)
	}
	if sub.PlanName != "pro" || sub.MonthlyCredits != 500 {
		t.Fatalf("plan snapshot wrong: %+v", sub)
	}
	wantStart := time.Unix(1767225600, 0).UTC()
	wantEnd := time.Unix(1769904000, 0).UTC()
	if sub.CurrentPeriodStart == nil || !sub.CurrentPeriodStart.Equal(wantStart) {
		t.Fatalf("period start wrong: %v", sub.CurrentPeriodStart)
	}
	if !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("period end wrong: %v", sub.CurrentPeriodEnd)
	}
	if len(sub.Metadata) == 0 {
		t.Fatal("expected metadata to be carried over")
	}
}

func TestBuildSubscriptionFromStripe_statusMapping(t *testing.T) {
	tests := []struct {
		raw  stripe.SubscriptionStatus
		want enums.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, enums.SubscriptionStatusActive},
		{stripe.SubscriptionStatusTrialing, enums.SubscriptionStatusActive},
		{stripe.SubscriptionStatusPastDue, enums.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusUnpaid, enums.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusCanceled, enums.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncompleteExpired, enums.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncomplete, enums.SubscriptionStatusIncomplete},
	}
	for _, tc := range tests {
		fixture := stripeSubFixture()
		fixture.Status = tc.raw
		sub, err := BuildSubscriptionFromStripe(fixture, uuid.New(), "pro", 500)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.raw, err)
		}
		if sub.Status != tc.want {
			t.Fatalf("%s mapped to %s, want %s", tc.raw, sub.Status, tc.want)
		}
	}
}

func TestUpdateSubscriptionFromStripe_preservesSnapshotWhenPlanUnchanged(t *testing.T) {
	userID := uuid.New()
	target, err := BuildSubscriptionFromStripe(stripeSubFixture(), userID, "pro", 500)
	if err != nil {
		t.Fatalf("BuildSubscriptionFromStripe error: %v", err)
	}

	next := stripeSubFixture()
	next.CancelAtPeriodEnd = true
	next.Items.Data[0].CurrentPeriodStart = 1769904000
	next.Items.Data[0].CurrentPeriodEnd = 1772582400

	if err := UpdateSubscriptionFromStripe(target, next, nil, nil); err != nil {
		t.Fatalf("UpdateSubscriptionFromStripe error: %v", err)
	}
	if target.PlanName != "pro" || target.MonthlyCredits != 500 {
		t.Fatalf("nil plan args must keep snapshot: %+v", target)
	}
	if !target.CancelAtPeriodEnd {
		t.Fatal("cancel flag not synced")
	}
	wantEnd := time.Unix(1772582400, 0).UTC()
	if !target.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("period end not advanced: %v", target.CurrentPeriodEnd)
	}

	newName := "team"
	newCredits := 2000
	if err := UpdateSubscriptionFromStripe(target, next, &newName, &newCredits); err != nil {
		t.Fatalf("UpdateSubscriptionFromStripe error: %v", err)
	}
	if target.PlanName != "team" || target.MonthlyCredits != 2000 {
		t.Fatalf("plan args must override snapshot: %+v", target)
	}
}

func TestBuildSubscriptionFromStripe_nilGuard(t *testing.T) {
	if _, err := BuildSubscriptionFromStripe(nil, uuid.New(), "pro", 500); err == nil {
		t.Fatal("expected error for nil subscription")
	}
}

func TestUserIDFromMetadata(t *testing.T) {
	want := uuid.New()
	got, err := UserIDFromMetadata(map[string]string{"user_id": " " + want.String() + " "})
	if err != nil {
		t.Fatalf("UserIDFromMetadata error: %v", err)
	}
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	if _, err := UserIDFromMetadata(map[string]string{}); err == nil {
		t.Fatal("expected error when metadata missing")
	}
	if _, err := UserIDFromMetadata(map[string]string{"user_id": "not-a-uuid"}); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
