package idempotency

import (
	"context"
	"time"

	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

// DefaultRetention is how long completed records keep suppressing redelivery.
const DefaultRetention = 30 * 24 * time.Hour

// Key derives the idempotency key from the provider's event identifier, so an
// exact redelivery collides while logically distinct events never do.
func Key(eventID string) string {
	return "stripe:" + eventID
}

// Service is the durable gate in front of side-effecting webhook work.
//
// BeginProcessing, Complete and Fail are all best-effort: the record is an
// optimization against redelivery, not the source of truth for whether work
// occurred, so losing a write must never block a legitimate event.
type Service interface {
	BeginProcessing(ctx context.Context, key, eventID, eventType string) error
	IsProcessed(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	Fail(ctx context.Context, key string, procErr error) error
	Cleanup(ctx context.Context) (int64, error)
}

// ServiceParams wires the idempotency guard dependencies.
type ServiceParams struct {
	Repo      Repository
	Logger    *logger.Logger
	Retention time.Duration
}

type service struct {
	repo      Repository
	logg      *logger.Logger
	retention time.Duration
}

// NewService wires a durable idempotency guard.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &service{
		repo:      params.Repo,
		logg:      params.Logger,
		retention: retention,
	}, nil
}

func (s *service) BeginProcessing(ctx context.Context, key, eventID, eventType string) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	record := &models.WebhookEvent{
		ID:        key,
		EventID:   eventID,
		EventType: eventType,
		Status:    enums.WebhookEventStatusProcessing,
	}
	err := s.repo.Create(ctx, record)
	if err == nil {
		return nil
	}

	if db.IsUniqueViolation(err, "") {
		existing, findErr := s.repo.Find(ctx, key)
		if findErr != nil {
			s.failOpen(ctx, key, findErr, "load existing idempotency record")
			return nil
		}
		if existing != nil && existing.Status == enums.WebhookEventStatusCompleted {
			// Completed records are never resurrected; IsProcessed gates the work.
			return nil
		}
		if incErr := s.repo.IncrementRetry(ctx, key); incErr != nil {
			s.failOpen(ctx, key, incErr, "increment idempotency retry count")
		}
		return nil
	}

	s.failOpen(ctx, key, err, "create idempotency record")
	return nil
}

func (s *service) IsProcessed(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	record, err := s.repo.Find(ctx, key)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}
	if record == nil || record.Status != enums.WebhookEventStatusCompleted {
		return false, nil
	}
	return time.Since(record.CreatedAt) < s.retention, nil
}

func (s *service) Complete(ctx context.Context, key string) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if err := s.repo.MarkStatus(ctx, key, enums.WebhookEventStatusCompleted, nil, nil); err != nil {
		s.failOpen(ctx, key, err, "mark idempotency record completed")
	}
	return nil
}

func (s *service) Fail(ctx context.Context, key string, procErr error) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	var lastError *string
	if procErr != nil {
		msg := procErr.Error()
		lastError = &msg
	}
	if err := s.repo.MarkStatus(ctx, key, enums.WebhookEventStatusFailed, lastError, nil); err != nil {
		s.failOpen(ctx, key, err, "mark idempotency record failed")
	}
	return nil
}

func (s *service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete expired idempotency records")
	}
	return deleted, nil
}

func (s *service) failOpen(ctx context.Context, key string, err error, msg string) {
	s.logg.Error(s.logg.WithField(ctx, "idempotency_key", key), msg, err)
}
