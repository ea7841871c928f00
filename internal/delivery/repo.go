package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a delivery repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	if err := r.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repositoryImpl) FindFirstAvailableAgent(ctx context.Context) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	err := r.db.WithContext(ctx).
		Where("is_online = TRUE AND is_available = TRUE").
		Order("created_at ASC").
		First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repositoryImpl) ClaimAgent(ctx context.Context, agentID, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ? AND is_online = TRUE AND is_available = TRUE", agentID).
		UpdateColumns(map[string]any{
			"is_available":     false,
			"current_order_id": orderID,
		})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) ReleaseAgent(ctx context.Context, agentID, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ? AND current_order_id = ?", agentID, orderID).
		UpdateColumns(map[string]any{
			"is_available":     true,
			"current_order_id": nil,
		})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) CreditAgentEarnings(ctx context.Context, agentID uuid.UUID, amountPaise int64) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", agentID).
		UpdateColumns(map[string]any{
			"earnings_today_paise": gorm.Expr("earnings_today_paise + ?", amountPaise),
			"earnings_total_paise": gorm.Expr("earnings_total_paise + ?", amountPaise),
		}).Error
}

func (r *repositoryImpl) SetAgentOnline(ctx context.Context, agentID uuid.UUID, online bool, now time.Time) error {
	updates := map[string]any{"is_online": online}
	if online {
		updates["shift_started_at"] = now
		updates["shift_ended_at"] = nil
	} else {
		updates["shift_ended_at"] = now
	}
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", agentID).
		UpdateColumns(updates).Error
}

func (r *repositoryImpl) UpdateAgentLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", agentID).
		UpdateColumns(map[string]any{
			"live_lat":            lat,
			"live_lng":            lng,
			"location_updated_at": now,
		}).Error
}

func (r *repositoryImpl) UpdateAgentRating(ctx context.Context, agentID uuid.UUID, average float64, count int) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ? AND rating_count = ?", agentID, count-1).
		UpdateColumns(map[string]any{
			"rating_average": average,
			"rating_count":   count,
		})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) BindOrder(ctx context.Context, orderID, agentID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_agent_id IS NULL", orderID).
		UpdateColumn("delivery_agent_id", agentID)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) UnbindOrder(ctx context.Context, orderID, agentID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_agent_id = ?", orderID, agentID).
		UpdateColumns(map[string]any{
			"delivery_agent_id": nil,
			"picked_at":         nil,
		})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) UpdateOrderIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.OrderStatus, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, expected).
		UpdateColumns(updates)
	return result.RowsAffected, result.Error
}
