package models

import (
	"time"

	"github.com/codequesthq/codequest-backend/pkg/enums"
)

// WebhookEvent is the durable idempotency record for one provider event.
// ID is the idempotency key derived from the provider's event identifier, so
// redelivery of the same event collides on the primary key.
type WebhookEvent struct {
	ID          string                   `gorm:"column:id;primaryKey"`
	EventID     string                   `gorm:"column:event_id;not null"`
	EventType   string                   `gorm:"column:event_type;not null"`
	Status      enums.WebhookEventStatus `gorm:"column:status;type:webhook_event_status;not null;default:'processing'"`
	RetryCount  int                      `gorm:"column:retry_count;not null;default:0"`
	LastError   *string                  `gorm:"column:last_error"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime;index"`
	ProcessedAt *time.Time               `gorm:"column:processed_at"`
}
