package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditAccount holds the mutable per-user credit balance. Every mutation goes
// through a row-locked read so current_credits always matches the credits_after
// of the newest CreditTransaction.
type CreditAccount struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID  `gorm:"column:user_id;type:uuid;not null;unique"`
	CurrentCredits     int        `gorm:"column:current_credits;not null;default:0"`
	TotalCreditsEarned int        `gorm:"column:total_credits_earned;not null;default:0"`
	TotalCreditsUsed   int        `gorm:"column:total_credits_used;not null;default:0"`
	LastResetDate      *time.Time `gorm:"column:last_reset_date"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
