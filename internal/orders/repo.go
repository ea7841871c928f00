package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repositoryImpl) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) UpdateIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.OrderStatus, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, expected).
		UpdateColumns(updates)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) UpdateIfPaymentStatus(ctx context.Context, orderID uuid.UUID, expected enums.PaymentStatus, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, expected).
		UpdateColumns(updates)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) UpdateTipIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.PaymentStatus, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND tip_payment_status = ?", orderID, expected).
		UpdateColumns(updates)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) UpdateTipIfUnpaid(ctx context.Context, orderID uuid.UUID, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND (tip_payment_status IS NULL OR tip_payment_status <> ?)", orderID, enums.PaymentStatusPaid).
		UpdateColumns(updates)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) ListByUser(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error) {
	return r.list(ctx, "user_id = ?", params)
}

func (r *repositoryImpl) ListByKitchen(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error) {
	return r.list(ctx, "kitchen_id = ?", params)
}

func (r *repositoryImpl) list(ctx context.Context, ownerClause string, params listParams) ([]models.Order, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Preload("Items").
		Where(ownerClause, params.OwnerID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Order
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > normalized {
		next := rows[normalized]
		rows = rows[:normalized]
		return rows, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return rows, nil, nil
}
