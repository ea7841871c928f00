package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

// Repository defines persistence operations for wallet balances and the ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// FindUserForUpdate loads the user row with a row-level lock so the
	// balance read and write happen under the same lock.
	FindUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.User, error)
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateUserBalance(ctx context.Context, userID uuid.UUID, balancePaise int64) error
	IncrementReferralStats(ctx context.Context, userID uuid.UUID, earnedPaise int64) error
	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error
	FindTransactionByExternalID(ctx context.Context, userID uuid.UUID, externalTxnID string) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, params listTransactionsParams) ([]models.WalletTransaction, *pagination.Cursor, error)
}
