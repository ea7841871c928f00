package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listTransactionsParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) UpdateUserBalance(ctx context.Context, userID uuid.UUID, balancePaise int64) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("wallet_balance_paise", balancePaise).Error
}

func (r *repositoryImpl) IncrementReferralStats(ctx context.Context, userID uuid.UUID, earnedPaise int64) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]any{
			"referral_earnings_paise": gorm.Expr("referral_earnings_paise + ?", earnedPaise),
			"referral_count":          gorm.Expr("referral_count + 1"),
		}).Error
}

func (r *repositoryImpl) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repositoryImpl) FindTransactionByExternalID(ctx context.Context, userID uuid.UUID, externalTxnID string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND external_txn_id = ?", userID, externalTxnID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repositoryImpl) ListTransactions(ctx context.Context, params listTransactionsParams) ([]models.WalletTransaction, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("user_id = ?", params.UserID)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var txns []models.WalletTransaction
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&txns).Error; err != nil {
		return nil, nil, err
	}

	if len(txns) > normalized {
		next := txns[normalized]
		txns = txns[:normalized]
		return txns, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return txns, nil, nil
}
