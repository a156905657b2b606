package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/codequesthq/codequest-backend/pkg/enums"
)

// Subscription mirrors Stripe subscription state per user. The provider stays
// the source of truth for plan identity; the snapshot carries the credit
// allotment the ledger consumes plus any scheduled-but-unapplied downgrade.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id;index"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'active'"`
	PriceID              *string                  `gorm:"column:price_id"`
	PlanName             string                   `gorm:"column:plan_name;not null;default:''"`
	MonthlyCredits       int                      `gorm:"column:monthly_credits;not null;default:0"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	PendingPlanName      *string                  `gorm:"column:pending_plan_name"`
	PendingPlanCredits   *int                     `gorm:"column:pending_plan_credits"`
	PendingPlanEffective *time.Time               `gorm:"column:pending_plan_effective_at"`
	Metadata             json.RawMessage          `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasPendingPlanChange reports whether a deferred downgrade is recorded locally.
func (s *Subscription) HasPendingPlanChange() bool {
	return s != nil && s.PendingPlanName != nil && s.PendingPlanCredits != nil
}
