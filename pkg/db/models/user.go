package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal identity row the billing core needs: a stable id, the
// login email, and the payment provider's customer handle once one exists.
type User struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string    `gorm:"column:email;not null;unique"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;unique"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
