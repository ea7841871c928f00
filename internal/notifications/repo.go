package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

// Repository exposes persistence helpers for partner and agent notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreatePartner(ctx context.Context, notification *models.PartnerNotification) error
	CreateAgent(ctx context.Context, notification *models.DeliveryNotification) error
	ListPartner(ctx context.Context, params listParams) ([]models.PartnerNotification, *pagination.Cursor, error)
	ListAgent(ctx context.Context, params listParams) ([]models.DeliveryNotification, *pagination.Cursor, error)
	MarkPartnerRead(ctx context.Context, kitchenID, notificationID uuid.UUID, now time.Time) (markResult, error)
	MarkAgentRead(ctx context.Context, agentID, notificationID uuid.UUID, now time.Time) (markResult, error)
	MarkAllPartnerRead(ctx context.Context, kitchenID uuid.UUID, now time.Time) (int64, error)
	MarkAllAgentRead(ctx context.Context, agentID uuid.UUID, now time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listParams struct {
	OwnerID    uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CreatePartner(ctx context.Context, notification *models.PartnerNotification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) CreateAgent(ctx context.Context, notification *models.DeliveryNotification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) ListPartner(ctx context.Context, params listParams) ([]models.PartnerNotification, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.PartnerNotification{}).Where("kitchen_id = ?", params.OwnerID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var notifications []models.PartnerNotification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}

	if len(notifications) > normalized {
		next := notifications[normalized]
		notifications = notifications[:normalized]
		return notifications, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return notifications, nil, nil
}

func (r *repositoryImpl) ListAgent(ctx context.Context, params listParams) ([]models.DeliveryNotification, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.DeliveryNotification{}).Where("agent_id = ?", params.OwnerID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var notifications []models.DeliveryNotification
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}

	if len(notifications) > normalized {
		next := notifications[normalized]
		notifications = notifications[:normalized]
		return notifications, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return notifications, nil, nil
}

func (r *repositoryImpl) MarkPartnerRead(ctx context.Context, kitchenID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PartnerNotification{}).
		Where("id = ? AND kitchen_id = ? AND read_at IS NULL", notificationID, kitchenID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return markResult{}, result.Error
	}

	mark := markResult{Updated: result.RowsAffected > 0}
	if result.RowsAffected > 0 {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PartnerNotification{}).
		Where("id = ? AND kitchen_id = ?", notificationID, kitchenID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkAgentRead(ctx context.Context, agentID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryNotification{}).
		Where("id = ? AND agent_id = ? AND read_at IS NULL", notificationID, agentID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return markResult{}, result.Error
	}

	mark := markResult{Updated: result.RowsAffected > 0}
	if result.RowsAffected > 0 {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.DeliveryNotification{}).
		Where("id = ? AND agent_id = ?", notificationID, agentID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkAllPartnerRead(ctx context.Context, kitchenID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PartnerNotification{}).
		Where("kitchen_id = ? AND read_at IS NULL", kitchenID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) MarkAllAgentRead(ctx context.Context, agentID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryNotification{}).
		Where("agent_id = ? AND read_at IS NULL", agentID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
