package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAgent is a courier account. Invariant: IsAvailable is false
// whenever CurrentOrderID is non-nil; an offline agent cannot accept orders.
type DeliveryAgent struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FullName     string    `gorm:"column:full_name;type:text;not null"`
	Email        string    `gorm:"column:email;type:text;not null;uniqueIndex"`
	Phone        string    `gorm:"column:phone;type:text;not null"`
	PasswordHash string    `gorm:"column:password_hash;type:text;not null"`

	IsOnline       bool       `gorm:"column:is_online;not null;default:false"`
	IsAvailable    bool       `gorm:"column:is_available;not null;default:true"`
	CurrentOrderID *uuid.UUID `gorm:"column:current_order_id;type:uuid"`

	EarningsTodayPaise int64 `gorm:"column:earnings_today_paise;not null;default:0"`
	EarningsTotalPaise int64 `gorm:"column:earnings_total_paise;not null;default:0"`

	RatingAverage float64 `gorm:"column:rating_average;not null;default:0"`
	RatingCount   int     `gorm:"column:rating_count;not null;default:0"`

	LiveLat           *float64   `gorm:"column:live_lat"`
	LiveLng           *float64   `gorm:"column:live_lng"`
	LocationUpdatedAt *time.Time `gorm:"column:location_updated_at"`

	ShiftStartedAt *time.Time `gorm:"column:shift_started_at"`
	ShiftEndedAt   *time.Time `gorm:"column:shift_ended_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
