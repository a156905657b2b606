package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/internal/subscriptions"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

type fakeSubRepo struct {
	byStripeID       map[string]*models.Subscription
	activeByCustomer map[string][]models.Subscription

	created []*models.Subscription
	updated []*models.Subscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{
		byStripeID:       map[string]*models.Subscription{},
		activeByCustomer: map[string][]models.Subscription{},
	}
}

func (f *fakeSubRepo) WithTx(tx *gorm.DB) subscriptions.Repository { return f }

func (f *fakeSubRepo) Create(ctx context.Context, sub *models.Subscription) error {
	f.byStripeID[sub.StripeSubscriptionID] = sub
	f.created = append(f.created, sub)
	return nil
}

func (f *fakeSubRepo) Update(ctx context.Context, sub *models.Subscription) error {
	f.byStripeID[sub.StripeSubscriptionID] = sub
	f.updated = append(f.updated, sub)
	return nil
}

func (f *fakeSubRepo) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return f.byStripeID[stripeSubscriptionID], nil
}

func (f *fakeSubRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubRepo) ListActiveByCustomer(ctx context.Context, stripeCustomerID string) ([]models.Subscription, error) {
	return f.activeByCustomer[stripeCustomerID], nil
}

type fakeUserDirectory struct {
	byCustomer map[string]*models.User
	ensured    []uuid.UUID
}

func (f *fakeUserDirectory) EnsureInitialized(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	f.ensured = append(f.ensured, userID)
	return &models.User{ID: userID}, nil
}

func (f *fakeUserDirectory) ResolveByCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error) {
	return f.byCustomer[stripeCustomerID], nil
}

type fakeLedger struct {
	setCalls     []credits.SetAbsoluteInput
	refreshCalls []uuid.UUID
}

func (f *fakeLedger) SetAbsolute(ctx context.Context, input credits.SetAbsoluteInput) (*models.CreditAccount, error) {
	f.setCalls = append(f.setCalls, input)
	return &models.CreditAccount{UserID: input.UserID, CurrentCredits: input.TargetCredits}, nil
}

func (f *fakeLedger) RefreshForNewPeriod(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	f.refreshCalls = append(f.refreshCalls, userID)
	return &models.CreditAccount{UserID: userID}, nil
}

type staticPlans struct {
	credits map[string]int
	names   map[string]string
}

func (p *staticPlans) ResolveAllotment(ctx context.Context, priceID string) (int, error) {
	return p.credits[priceID], nil
}

func (p *staticPlans) ResolveName(ctx context.Context, priceID string) (string, error) {
	return p.names[priceID], nil
}

type fakeStripeAPI struct {
	subs        map[string]*stripe.Subscription
	updates     map[string]*stripe.SubscriptionParams
	cancelCalls []string
}

func newFakeStripeAPI() *fakeStripeAPI {
	return &fakeStripeAPI{
		subs:    map[string]*stripe.Subscription{},
		updates: map[string]*stripe.SubscriptionParams{},
	}
}

func (f *fakeStripeAPI) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return f.subs[id], nil
}

func (f *fakeStripeAPI) Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.updates[id] = params
	return f.subs[id], nil
}

func (f *fakeStripeAPI) Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	f.cancelCalls = append(f.cancelCalls, id)
	return f.subs[id], nil
}

type passRunner struct{}

func (passRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type webhookHarness struct {
	svc    *Service
	repo   *fakeSubRepo
	users  *fakeUserDirectory
	ledger *fakeLedger
	stripe *fakeStripeAPI
}

func newHarness(t *testing.T) *webhookHarness {
	t.Helper()
	repo := newFakeSubRepo()
	users := &fakeUserDirectory{byCustomer: map[string]*models.User{}}
	ledger := &fakeLedger{}
	api := newFakeStripeAPI()
	planList := &staticPlans{
		credits: map[string]int{"price_starter": 100, "price_pro": 500},
		names:   map[string]string{"price_starter": "starter", "price_pro": "pro"},
	}
	svc, err := NewService(ServiceParams{
		SubscriptionRepo:  repo,
		Users:             users,
		Credits:           ledger,
		Plans:             planList,
		StripeClient:      api,
		TransactionRunner: passRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return &webhookHarness{svc: svc, repo: repo, users: users, ledger: ledger, stripe: api}
}

func providerSubscription(userID uuid.UUID, priceID string, metadata map[string]string) *stripe.Subscription {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["user_id"] = userID.String()
	return &stripe.Subscription{
		ID:       "sub_live",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: metadata,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				ID:                 "si_1",
				Price:              &stripe.Price{ID: priceID},
				CurrentPeriodStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Unix(),
				CurrentPeriodEnd:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Unix(),
			}},
		},
	}
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, sub *stripe.Subscription) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func invoiceEvent(subscriptionID string) *stripe.Event {
	object := map[string]interface{}{}
	if subscriptionID != "" {
		object["subscription"] = subscriptionID
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripe.EventTypeInvoicePaymentSucceeded,
		Data: &stripe.EventData{Object: object},
	}
}

func TestHandleEvent_subscriptionCreated_newSubscriber(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	sub := providerSubscription(userID, "price_pro", nil)

	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.repo.created) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(h.repo.created))
	}
	snapshot := h.repo.created[0]
	if snapshot.UserID != userID || snapshot.PlanName != "pro" || snapshot.MonthlyCredits != 500 {
		t.Fatalf("snapshot wrong: %+v", snapshot)
	}
	if len(h.ledger.refreshCalls) != 1 || h.ledger.refreshCalls[0] != userID {
		t.Fatalf("expected a period refresh for %s, got %v", userID, h.ledger.refreshCalls)
	}
	if len(h.ledger.setCalls) != 0 {
		t.Fatalf("plain signup must not set an absolute balance: %+v", h.ledger.setCalls)
	}
}

func TestHandleEvent_subscriptionCreated_upgradeGrantsOnceAndClearsFlags(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	sub := providerSubscription(userID, "price_pro", map[string]string{
		"is_plan_change":           "true",
		"previous_plan_name":       "starter",
		"previous_monthly_credits": "100",
	})

	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.ledger.setCalls) != 1 {
		t.Fatalf("expected one absolute set, got %d", len(h.ledger.setCalls))
	}
	set := h.ledger.setCalls[0]
	if set.UserID != userID || set.TargetCredits != 500 || !set.MarkReset {
		t.Fatalf("unexpected set input: %+v", set)
	}
	if set.Type != enums.CreditTransactionTypeSubscription {
		t.Fatalf("transaction type = %s", set.Type)
	}
	if len(h.ledger.refreshCalls) != 0 {
		t.Fatal("upgrade path must not also refresh")
	}

	cleared := h.stripe.updates["sub_live"]
	if cleared == nil {
		t.Fatal("provider flags not cleared")
	}
	if cleared.Metadata["is_plan_change"] != "" {
		t.Fatalf("is_plan_change not cleared: %+v", cleared.Metadata)
	}
}

func TestHandleEvent_subscriptionCreated_downgradeLeavesCreditsAlone(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	sub := providerSubscription(userID, "price_starter", map[string]string{
		"is_plan_change":           "true",
		"is_downgrade":             "true",
		"previous_plan_name":       "pro",
		"previous_monthly_credits": "500",
	})

	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.ledger.setCalls) != 0 || len(h.ledger.refreshCalls) != 0 {
		t.Fatalf("downgrade at creation must not touch credits: set=%v refresh=%v", h.ledger.setCalls, h.ledger.refreshCalls)
	}
	if len(h.repo.created) != 1 {
		t.Fatal("snapshot must still be recorded")
	}
	if h.repo.created[0].MonthlyCredits != 100 {
		t.Fatalf("snapshot must carry the new plan: %+v", h.repo.created[0])
	}
}

func TestHandleEvent_subscriptionCreated_scheduleDerivedIsDeferred(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	fromScheduleMeta := providerSubscription(userID, "price_starter", map[string]string{"from_schedule": "true"})
	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, fromScheduleMeta))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	withSchedule := providerSubscription(userID, "price_starter", nil)
	withSchedule.Schedule = &stripe.SubscriptionSchedule{ID: "sched_1"}
	err = h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, withSchedule))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.repo.created) != 0 {
		t.Fatalf("schedule-derived created events must defer entirely, got %d snapshots", len(h.repo.created))
	}
	if len(h.ledger.setCalls) != 0 || len(h.ledger.refreshCalls) != 0 {
		t.Fatal("schedule-derived created events must not touch credits")
	}
}

func TestHandleEvent_subscriptionCreated_cancelsSupersededSubscriptions(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	customerID := "cus_1"
	h.repo.activeByCustomer[customerID] = []models.Subscription{
		{StripeSubscriptionID: "sub_old", Status: enums.SubscriptionStatusActive},
		{StripeSubscriptionID: "sub_live", Status: enums.SubscriptionStatusActive},
	}

	sub := providerSubscription(userID, "price_pro", nil)
	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.stripe.cancelCalls) != 1 || h.stripe.cancelCalls[0] != "sub_old" {
		t.Fatalf("expected sub_old canceled, got %v", h.stripe.cancelCalls)
	}
	var markedCanceled bool
	for _, updated := range h.repo.updated {
		if updated.StripeSubscriptionID == "sub_old" && updated.Status == enums.SubscriptionStatusCanceled {
			markedCanceled = true
		}
	}
	if !markedCanceled {
		t.Fatal("superseded snapshot not marked canceled")
	}
}

func TestHandleEvent_subscriptionUpdated_syncsAndRefreshes(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	priceID := "price_pro"
	h.repo.byStripeID["sub_live"] = &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: "sub_live",
		Status:               enums.SubscriptionStatusActive,
		PriceID:              &priceID,
		PlanName:             "pro",
		MonthlyCredits:       500,
	}

	sub := providerSubscription(userID, "price_pro", nil)
	sub.CancelAtPeriodEnd = true
	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, sub))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if !h.repo.byStripeID["sub_live"].CancelAtPeriodEnd {
		t.Fatal("snapshot not resynced")
	}
	if len(h.ledger.refreshCalls) != 1 {
		t.Fatalf("expected one refresh, got %d", len(h.ledger.refreshCalls))
	}
}

func TestHandleEvent_subscriptionDeleted_marksCanceledKeepsCredits(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.repo.byStripeID["sub_live"] = &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: "sub_live",
		Status:               enums.SubscriptionStatusActive,
		MonthlyCredits:       500,
	}

	sub := providerSubscription(userID, "price_pro", nil)
	sub.Status = stripe.SubscriptionStatusCanceled
	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, sub))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if h.repo.byStripeID["sub_live"].Status != enums.SubscriptionStatusCanceled {
		t.Fatalf("status = %s", h.repo.byStripeID["sub_live"].Status)
	}
	if len(h.ledger.setCalls) != 0 || len(h.ledger.refreshCalls) != 0 {
		t.Fatal("deletion must not touch credits")
	}
}

func TestHandleEvent_subscriptionDeleted_unknownSubscriptionIsIgnored(t *testing.T) {
	h := newHarness(t)
	sub := providerSubscription(uuid.New(), "price_pro", nil)

	err := h.svc.HandleEvent(context.Background(), subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, sub))
	if err != nil {
		t.Fatalf("unknown subscription must not fail the event: %v", err)
	}
}

func TestHandleEvent_invoicePaid_plainRenewalRefreshes(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.stripe.subs["sub_live"] = providerSubscription(userID, "price_pro", nil)

	err := h.svc.HandleEvent(context.Background(), invoiceEvent("sub_live"))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.ledger.refreshCalls) != 1 || h.ledger.refreshCalls[0] != userID {
		t.Fatalf("expected refresh for %s, got %v", userID, h.ledger.refreshCalls)
	}
	if len(h.ledger.setCalls) != 0 {
		t.Fatal("plain renewal must not set an absolute balance")
	}
	if h.repo.byStripeID["sub_live"] == nil {
		t.Fatal("renewal must sync the snapshot")
	}
}

func TestHandleEvent_invoicePaid_deferredDowngradeLandsHere(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	pendingName := "starter"
	pendingCredits := 100
	effective := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	h.repo.byStripeID["sub_sched"] = &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: "sub_sched",
		Status:               enums.SubscriptionStatusActive,
		PlanName:             "pro",
		MonthlyCredits:       500,
		PendingPlanName:      &pendingName,
		PendingPlanCredits:   &pendingCredits,
		PendingPlanEffective: &effective,
	}
	downgraded := providerSubscription(userID, "price_starter", map[string]string{
		"is_plan_change":           "true",
		"is_downgrade":             "true",
		"from_schedule":            "true",
		"previous_plan_name":       "pro",
		"previous_monthly_credits": "500",
	})
	downgraded.ID = "sub_sched"
	h.stripe.subs["sub_sched"] = downgraded

	err := h.svc.HandleEvent(context.Background(), invoiceEvent("sub_sched"))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}

	if len(h.ledger.setCalls) != 1 {
		t.Fatalf("expected one absolute set, got %d", len(h.ledger.setCalls))
	}
	set := h.ledger.setCalls[0]
	if set.TargetCredits != 100 || !set.MarkReset {
		t.Fatalf("downgrade must land the cheaper allotment: %+v", set)
	}
	if len(h.ledger.refreshCalls) != 0 {
		t.Fatal("flagged boundary must not also refresh")
	}

	snapshot := h.repo.byStripeID["sub_sched"]
	if snapshot.HasPendingPlanChange() {
		t.Fatalf("pending change not cleared: %+v", snapshot)
	}
	if snapshot.PlanName != "starter" || snapshot.MonthlyCredits != 100 {
		t.Fatalf("snapshot must reflect the new plan: %+v", snapshot)
	}
	if h.stripe.updates["sub_sched"] == nil {
		t.Fatal("provider flags not cleared")
	}
}

func TestHandleEvent_invoicePaid_consumedFlagsReadAsPlainRenewal(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	// Flags were already cleared when the upgrade was applied at creation time.
	h.stripe.subs["sub_live"] = providerSubscription(userID, "price_pro", nil)
	h.repo.byStripeID["sub_live"] = &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		StripeSubscriptionID: "sub_live",
		Status:               enums.SubscriptionStatusActive,
		PlanName:             "pro",
		MonthlyCredits:       500,
	}

	err := h.svc.HandleEvent(context.Background(), invoiceEvent("sub_live"))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if len(h.ledger.setCalls) != 0 {
		t.Fatal("consumed flags must not grant again")
	}
	if len(h.ledger.refreshCalls) != 1 {
		t.Fatalf("expected plain refresh, got %d", len(h.ledger.refreshCalls))
	}
}

func TestHandleEvent_invoicePaid_samePlanChangeSkipsLedgerWrite(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	h.stripe.subs["sub_live"] = providerSubscription(userID, "price_pro", map[string]string{
		"is_plan_change":           "true",
		"previous_plan_name":       "pro",
		"previous_monthly_credits": "500",
	})

	err := h.svc.HandleEvent(context.Background(), invoiceEvent("sub_live"))
	if err != nil {
		t.Fatalf("HandleEvent error: %v", err)
	}
	if len(h.ledger.setCalls) != 0 || len(h.ledger.refreshCalls) != 0 {
		t.Fatal("equal allotments must not touch the ledger")
	}
	if h.stripe.updates["sub_live"] == nil {
		t.Fatal("stale flags must still be cleared")
	}
}

func TestHandleEvent_invoicePaid_oneOffInvoiceIsIgnored(t *testing.T) {
	h := newHarness(t)

	err := h.svc.HandleEvent(context.Background(), invoiceEvent(""))
	if err != nil {
		t.Fatalf("one-off invoice must be a no-op: %v", err)
	}
	if len(h.ledger.setCalls) != 0 || len(h.ledger.refreshCalls) != 0 {
		t.Fatal("one-off invoice must not touch the ledger")
	}
}

func TestHandleEvent_invoicePaymentFailedIsLogOnly(t *testing.T) {
	h := newHarness(t)
	event := &stripe.Event{
		ID:   "evt_fail",
		Type: stripe.EventTypeInvoicePaymentFailed,
		Data: &stripe.EventData{Object: map[string]interface{}{"subscription": "sub_live"}},
	}

	if err := h.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("payment failure must not error: %v", err)
	}
	if len(h.ledger.setCalls) != 0 || len(h.ledger.refreshCalls) != 0 {
		t.Fatal("payment failure must not touch the ledger")
	}
}

func TestHandleEvent_unhandledTypeIsNoop(t *testing.T) {
	h := newHarness(t)
	event := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventType("customer.created"),
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}

	if err := h.svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unhandled types must be acknowledged: %v", err)
	}
}
