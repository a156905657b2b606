package users

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/google/uuid"
)

type creditAccounts interface {
	EnsureAccount(ctx context.Context, userID uuid.UUID, seedCredits int) error
}

// Service is the user directory: it resolves billing identities and guarantees
// that every known user has a credit account before the ledger is touched.
type Service interface {
	EnsureInitialized(ctx context.Context, userID uuid.UUID) (*models.User, error)
	EnsureInitializedByEmail(ctx context.Context, email string) (*models.User, error)
	ResolveByCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error)
	AttachCustomerID(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error
}

type ServiceParams struct {
	Repo            Repository
	Credits         creditAccounts
	FreeTierCredits int
	Logger          *logger.Logger
}

type service struct {
	repo            Repository
	credits         creditAccounts
	freeTierCredits int
	logger          *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repo required")
	}
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:            params.Repo,
		credits:         params.Credits,
		freeTierCredits: params.FreeTierCredits,
		logger:          params.Logger,
	}, nil
}

// EnsureInitialized loads the user and guarantees their credit account exists,
// seeding it with the free-tier allotment on first touch. Safe to call on
// every request and every webhook.
func (s *service) EnsureInitialized(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if err := s.credits.EnsureAccount(ctx, user.ID, s.freeTierCredits); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureInitializedByEmail resolves or creates the user for the given email
// and guarantees their credit account exists. Concurrent first-touch races
// collapse onto the row that won the insert.
func (s *service) EnsureInitializedByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email required")
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user by email")
		}
		user = &models.User{Email: email}
		if createErr := s.repo.Create(ctx, user); createErr != nil {
			if !db.IsUniqueViolation(createErr, "") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, createErr, "create user")
			}
			user, err = s.repo.FindByEmail(ctx, email)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload user after insert race")
			}
		}
	}
	if err := s.credits.EnsureAccount(ctx, user.ID, s.freeTierCredits); err != nil {
		return nil, err
	}
	return user, nil
}

// ResolveByCustomerID maps a payment-provider customer handle back to the user.
func (s *service) ResolveByCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error) {
	if stripeCustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe customer id required")
	}
	user, err := s.repo.FindByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no user for stripe customer")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user by customer id")
	}
	return user, nil
}

// AttachCustomerID records the provider customer handle on the user row.
func (s *service) AttachCustomerID(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	if userID == uuid.Nil || stripeCustomerID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and customer id required")
	}
	if err := s.repo.SetStripeCustomerID(ctx, userID, stripeCustomerID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach stripe customer id")
	}
	return nil
}
