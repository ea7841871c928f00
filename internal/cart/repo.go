package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
)

// Repository defines persistence operations for carts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	UpdateKitchen(ctx context.Context, cartID uuid.UUID, kitchenID *uuid.UUID) error
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (int64, error)
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
	FindMenuItem(ctx context.Context, menuItemID uuid.UUID) (*models.MenuItem, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a cart repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repositoryImpl) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

func (r *repositoryImpl) UpdateKitchen(ctx context.Context, cartID uuid.UUID, kitchenID *uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		UpdateColumn("kitchen_id", kitchenID).Error
}

func (r *repositoryImpl) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repositoryImpl) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		UpdateColumn("quantity", quantity)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Delete(&models.CartItem{})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).Error
}

func (r *repositoryImpl) FindMenuItem(ctx context.Context, menuItemID uuid.UUID) (*models.MenuItem, error) {
	var item models.MenuItem
	if err := r.db.WithContext(ctx).Where("id = ?", menuItemID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}
