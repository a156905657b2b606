package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codequesthq/codequest-backend/pkg/db/models"
	"github.com/codequesthq/codequest-backend/pkg/enums"
	"github.com/codequesthq/codequest-backend/pkg/pagination"
)

// Repository handles credit account and transaction persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	FindAccount(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	// FindAccountForUpdate reads the account row under an exclusive row lock.
	// It must be called inside a transaction-bound repository.
	FindAccountForUpdate(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	UpdateAccount(ctx context.Context, account *models.CreditAccount) error
	CreateTransaction(ctx context.Context, transaction *models.CreditTransaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.CreditTransaction, error)
	SumUsageSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	ListAccountsDueForReset(ctx context.Context, before time.Time, limit int) ([]models.CreditAccount, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccount(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountForUpdate(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateAccount(ctx context.Context, account *models.CreditAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *repository) CreateTransaction(ctx context.Context, transaction *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.CreditTransaction, error) {
	params = pagination.Normalize(params)
	var transactions []models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repository) SumUsageSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Select("COALESCE(SUM(credits_used), 0)").
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, enums.CreditTransactionTypeUsage, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

func (r *repository) ListAccountsDueForReset(ctx context.Context, before time.Time, limit int) ([]models.CreditAccount, error) {
	if limit <= 0 {
		limit = 500
	}
	var accounts []models.CreditAccount
	if err := r.db.WithContext(ctx).
		Where("last_reset_date IS NULL OR last_reset_date < ?", before).
		Order("last_reset_date ASC NULLS FIRST").
		Limit(limit).
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
