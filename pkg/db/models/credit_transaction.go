package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/codequesthq/codequest-backend/pkg/enums"
)

// CreditTransaction is the immutable audit row for one balance change.
// CreditsUsed is signed: positive for consumption, negative for a grant, so
// CreditsAfter == CreditsBefore - CreditsUsed always holds.
type CreditTransaction struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index:idx_credit_transactions_user_created"`
	Type            enums.CreditTransactionType `gorm:"column:type;type:credit_transaction_type;not null"`
	ServiceName     *string                     `gorm:"column:service_name"`
	ServiceCategory *string                     `gorm:"column:service_category"`
	CreditsUsed     int                         `gorm:"column:credits_used;not null"`
	CreditsBefore   int                         `gorm:"column:credits_before;not null"`
	CreditsAfter    int                         `gorm:"column:credits_after;not null"`
	ActualPrice     decimal.NullDecimal         `gorm:"column:actual_price;type:numeric(12,6)"`
	Metadata        json.RawMessage             `gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime;index:idx_credit_transactions_user_created"`
}
