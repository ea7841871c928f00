package auth

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
)

// Repository defines the account lookups the auth flows need.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	SetReferredBy(ctx context.Context, userID uuid.UUID, referralCode string) error

	FindKitchenByEmail(ctx context.Context, email string) (*models.Kitchen, error)
	FindAgentByEmail(ctx context.Context, email string) (*models.DeliveryAgent, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an auth repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repositoryImpl) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) FindUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) SetReferredBy(ctx context.Context, userID uuid.UUID, referralCode string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("referred_by", referralCode).Error
}

func (r *repositoryImpl) FindKitchenByEmail(ctx context.Context, email string) (*models.Kitchen, error) {
	var kitchen models.Kitchen
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&kitchen).Error; err != nil {
		return nil, err
	}
	return &kitchen, nil
}

func (r *repositoryImpl) FindAgentByEmail(ctx context.Context, email string) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}
