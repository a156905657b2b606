package cron

import (
	"context"
	"fmt"

	"github.com/codequesthq/codequest-backend/pkg/logger"
)

type webhookEventCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// WebhookRetentionJobParams configures the webhook-event retention cleanup.
type WebhookRetentionJobParams struct {
	Logger      *logger.Logger
	Idempotency webhookEventCleaner
}

// NewWebhookRetentionJob builds the job that prunes idempotency records past
// the retention window so the guard table stays bounded.
func NewWebhookRetentionJob(params WebhookRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency service required")
	}
	return &webhookRetentionJob{
		logg:        params.Logger,
		idempotency: params.Idempotency,
	}, nil
}

type webhookRetentionJob struct {
	logg        *logger.Logger
	idempotency webhookEventCleaner
}

func (j *webhookRetentionJob) Name() string { return "webhook-retention" }

func (j *webhookRetentionJob) Run(ctx context.Context) error {
	deleted, err := j.idempotency.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleanup webhook events: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "deleted", deleted), "webhook event retention cleanup complete")
	return nil
}
