package models

import (
	"time"

	"github.com/google/uuid"
)

// Kitchen is the partner-side seller account fulfilling orders.
type Kitchen struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string    `gorm:"column:name;type:text;not null"`
	Email        string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	Phone        string    `gorm:"column:phone;type:text;not null"`
	Address      string    `gorm:"column:address;type:text"`
	PasswordHash string    `gorm:"column:password_hash;type:text;not null"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// MenuItem is the partner-owned catalog row carts snapshot prices from.
// Later edits never change historical order or cart snapshots.
type MenuItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	KitchenID   uuid.UUID `gorm:"column:kitchen_id;type:uuid;not null;index"`
	Name        string    `gorm:"column:name;type:text;not null"`
	PricePaise  int64     `gorm:"column:price_paise;not null"`
	IsAvailable bool      `gorm:"column:is_available;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
