package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart is the per-user mutable item list bound to at most one kitchen.
// It is cleared (emptied, not deleted) when an order is created from it.
type Cart struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	KitchenID *uuid.UUID `gorm:"column:kitchen_id;type:uuid"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// CartItem snapshots name/price/addons at add time.
type CartItem struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID     uuid.UUID        `gorm:"column:cart_id;type:uuid;not null;index"`
	MenuItemID uuid.UUID        `gorm:"column:menu_item_id;type:uuid;not null"`
	Name       string           `gorm:"column:name;type:text;not null"`
	PricePaise int64            `gorm:"column:price_paise;not null"`
	Quantity   int              `gorm:"column:quantity;not null"`
	Addons     []OrderItemAddon `gorm:"column:addons;type:jsonb;serializer:json"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalPaise sums line totals (unit price + addons, times quantity).
func (c Cart) TotalPaise() int64 {
	var total int64
	for _, item := range c.Items {
		line := item.PricePaise
		for _, addon := range item.Addons {
			line += addon.PricePaise
		}
		total += line * int64(item.Quantity)
	}
	return total
}
