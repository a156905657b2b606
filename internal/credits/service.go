package credits

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/codequesthq/codequest-backend/pkg/db"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/codequesthq/codequest-backend/pkg/pagination"
)

// AllotmentSource resolves the monthly credit allotment a user is currently
// entitled to. Implemented by the plans package against the provider's
// product metadata, with the free tier as the no-subscription fallback.
type AllotmentSource interface {
	CurrentAllotment(ctx context.Context, userID uuid.UUID) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns the per-user credit balance and its append-only audit trail.
type Service interface {
	EnsureAccount(ctx context.Context, userID uuid.UUID, seedCredits int) error
	Deduct(ctx context.Context, input DeductInput) (*DeductResult, error)
	Add(ctx context.Context, input AddInput) (*models.CreditAccount, error)
	SetAbsolute(ctx context.Context, input SetAbsoluteInput) (*models.CreditAccount, error)
	RefreshForNewPeriod(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.CreditTransaction, error)
	SumUsageSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	RunMonthlyReset(ctx context.Context, periodStart time.Time) ([]ResetOutcome, error)
}

// DeductInput describes one usage charge. Cost is computed by the caller via
// the pricing table before the ledger is touched.
type DeductInput struct {
	UserID          uuid.UUID
	Cost            int
	ServiceName     string
	ServiceCategory string
	ActualPrice     decimal.NullDecimal
	Metadata        json.RawMessage
}

// DeductResult is a structured outcome: insufficient credits is an expected
// hot-path result, not an error.
type DeductResult struct {
	Success          bool `json:"success"`
	RemainingCredits int  `json:"remaining_credits"`
	CreditsDeducted  int  `json:"credits_deducted"`
}

// AddInput grants credits outside of plan refreshes.
type AddInput struct {
	UserID   uuid.UUID
	Amount   int
	Type     enums.CreditTransactionType
	Metadata json.RawMessage
}

// SetAbsoluteInput moves the balance to an exact target. Used for plan changes
// and period refreshes so replays converge instead of double-granting.
type SetAbsoluteInput struct {
	UserID        uuid.UUID
	TargetCredits int
	Type          enums.CreditTransactionType
	Metadata      json.RawMessage
	MarkReset     bool
}

// ResetOutcome reports one user's result from a best-effort batch reset.
type ResetOutcome struct {
	UserID uuid.UUID
	Err    error
}

// errInsufficientCredits aborts the deduct transaction without surfacing as a
// caller-visible error.
var errInsufficientCredits = errors.New("insufficient credits")

// ServiceParams wires the ledger service dependencies.
type ServiceParams struct {
	Repo              Repository
	Allotments        AllotmentSource
	TransactionRunner *db.Client
	Logger            *logger.Logger
}

type service struct {
	repo       Repository
	allotments AllotmentSource
	txRunner   txRunner
	logg       *logger.Logger
}

// NewService wires a credit ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits repository required")
	}
	if params.Allotments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "allotment source required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:       params.Repo,
		allotments: params.Allotments,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
	}, nil
}

// newServiceWithRunner is the test seam: identical wiring with any runner.
func newServiceWithRunner(repo Repository, allotments AllotmentSource, runner txRunner, logg *logger.Logger) Service {
	return &service{repo: repo, allotments: allotments, txRunner: runner, logg: logg}
}

func (s *service) EnsureAccount(ctx context.Context, userID uuid.UUID, seedCredits int) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if seedCredits < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "seed credits must be non-negative")
	}

	existing, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit account")
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account := &models.CreditAccount{
			UserID:             userID,
			CurrentCredits:     seedCredits,
			TotalCreditsEarned: seedCredits,
			LastResetDate:      &now,
		}
		if err := repo.CreateAccount(ctx, account); err != nil {
			return err
		}
		if seedCredits == 0 {
			return nil
		}
		return repo.CreateTransaction(ctx, &models.CreditTransaction{
			UserID:        userID,
			Type:          enums.CreditTransactionTypeBonus,
			CreditsUsed:   -seedCredits,
			CreditsBefore: 0,
			CreditsAfter:  seedCredits,
			Metadata:      json.RawMessage(`{"reason":"account_initialized"}`),
		})
	})
	if err != nil {
		// A concurrent initializer winning the insert race is fine.
		if db.IsUniqueViolation(err, "") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit account")
	}
	return nil
}

func (s *service) Deduct(ctx context.Context, input DeductInput) (*DeductResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Cost < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cost must be non-negative")
	}

	result := &DeductResult{}
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := repo.FindAccountForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
		}

		if account.CurrentCredits < input.Cost {
			result.RemainingCredits = account.CurrentCredits
			return errInsufficientCredits
		}

		before := account.CurrentCredits
		account.CurrentCredits -= input.Cost
		account.TotalCreditsUsed += input.Cost
		if err := repo.UpdateAccount(ctx, account); err != nil {
			return err
		}

		transaction := &models.CreditTransaction{
			UserID:        input.UserID,
			Type:          enums.CreditTransactionTypeUsage,
			CreditsUsed:   input.Cost,
			CreditsBefore: before,
			CreditsAfter:  account.CurrentCredits,
			ActualPrice:   input.ActualPrice,
			Metadata:      input.Metadata,
		}
		if input.ServiceName != "" {
			transaction.ServiceName = &input.ServiceName
		}
		if input.ServiceCategory != "" {
			transaction.ServiceCategory = &input.ServiceCategory
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return err
		}

		result.Success = true
		result.RemainingCredits = account.CurrentCredits
		result.CreditsDeducted = input.Cost
		return nil
	})
	if err != nil {
		if errors.Is(err, errInsufficientCredits) {
			return result, nil
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deduct credits")
	}
	return result, nil
}

func (s *service) Add(ctx context.Context, input AddInput) (*models.CreditAccount, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	if !input.Type.IsGrant() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction type must be a grant")
	}

	var updated *models.CreditAccount
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := repo.FindAccountForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
		}

		before := account.CurrentCredits
		account.CurrentCredits += input.Amount
		account.TotalCreditsEarned += input.Amount
		if err := repo.UpdateAccount(ctx, account); err != nil {
			return err
		}

		if err := repo.CreateTransaction(ctx, &models.CreditTransaction{
			UserID:        input.UserID,
			Type:          input.Type,
			CreditsUsed:   -input.Amount,
			CreditsBefore: before,
			CreditsAfter:  account.CurrentCredits,
			Metadata:      input.Metadata,
		}); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add credits")
	}
	return updated, nil
}

func (s *service) SetAbsolute(ctx context.Context, input SetAbsoluteInput) (*models.CreditAccount, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.TargetCredits < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target credits must be non-negative")
	}
	transactionType := input.Type
	if transactionType == "" {
		transactionType = enums.CreditTransactionTypeSubscription
	}
	if !transactionType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}

	var updated *models.CreditAccount
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		account, err := repo.FindAccountForUpdate(ctx, input.UserID)
		if err != nil {
			return err
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
		}

		before := account.CurrentCredits
		delta := input.TargetCredits - before
		account.CurrentCredits = input.TargetCredits
		if delta > 0 {
			account.TotalCreditsEarned += delta
		}
		if input.MarkReset {
			now := time.Now().UTC()
			account.LastResetDate = &now
		}
		if err := repo.UpdateAccount(ctx, account); err != nil {
			return err
		}

		// A zero delta bumps updated_at only; replayed refreshes converge to
		// the target without growing the audit trail.
		if delta != 0 {
			if err := repo.CreateTransaction(ctx, &models.CreditTransaction{
				UserID:        input.UserID,
				Type:          transactionType,
				CreditsUsed:   -delta,
				CreditsBefore: before,
				CreditsAfter:  account.CurrentCredits,
				Metadata:      input.Metadata,
			}); err != nil {
				return err
			}
		}
		updated = account
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set credits")
	}
	return updated, nil
}

func (s *service) RefreshForNewPeriod(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	allotment, err := s.allotments.CurrentAllotment(ctx, userID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve monthly allotment")
	}
	if allotment < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid allotment")
	}

	return s.SetAbsolute(ctx, SetAbsoluteInput{
		UserID:        userID,
		TargetCredits: allotment,
		Type:          enums.CreditTransactionTypeReset,
		Metadata:      json.RawMessage(`{"reason":"period_refresh"}`),
		MarkReset:     true,
	})
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit account not found")
	}
	return account, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.CreditTransaction, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	transactions, err := s.repo.ListTransactions(ctx, userID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return transactions, nil
}

func (s *service) SumUsageSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	total, err := s.repo.SumUsageSince(ctx, userID, since)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum usage")
	}
	return total, nil
}
