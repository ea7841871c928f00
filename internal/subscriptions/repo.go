package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
)

// Repository defines persistence for plans and purchased subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	FindPlan(ctx context.Context, planID uuid.UUID) (*models.SubscriptionPlan, error)
	FindActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (*models.UserSubscription, error)
	CreateSubscription(ctx context.Context, sub *models.UserSubscription) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) ListActivePlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.WithContext(ctx).
		Where("is_active = TRUE").
		Order("total_price_paise ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repositoryImpl) FindPlan(ctx context.Context, planID uuid.UUID) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) FindActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, statusActive, now).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repositoryImpl) CreateSubscription(ctx context.Context, sub *models.UserSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}
