package idempotency

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
)

// Repository persists webhook event processing records.
type Repository interface {
	Create(ctx context.Context, record *models.WebhookEvent) error
	Find(ctx context.Context, key string) (*models.WebhookEvent, error)
	IncrementRetry(ctx context.Context, key string) error
	MarkStatus(ctx context.Context, key string, status enums.WebhookEventStatus, lastError *string, retryCount *int) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an idempotency repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, record *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) Find(ctx context.Context, key string) (*models.WebhookEvent, error) {
	var record models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("id = ?", key).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) IncrementRetry(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND status <> ?", key, enums.WebhookEventStatusCompleted).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"status":      enums.WebhookEventStatusProcessing,
		}).Error
}

func (r *repository) MarkStatus(ctx context.Context, key string, status enums.WebhookEventStatus, lastError *string, retryCount *int) error {
	updates := map[string]any{
		"status":       status,
		"processed_at": time.Now().UTC(),
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}
	if retryCount != nil {
		updates["retry_count"] = *retryCount
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", key).
		Updates(updates).Error
}

func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.WebhookEvent{})
	return result.RowsAffected, result.Error
}
