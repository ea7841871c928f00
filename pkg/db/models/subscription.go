package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

// SubscriptionPlan is a purchasable meal plan.
type SubscriptionPlan struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string    `gorm:"column:name;type:text;not null"`
	Description     string    `gorm:"column:description;type:text"`
	DurationDays    int       `gorm:"column:duration_days;not null"`
	TotalPricePaise int64     `gorm:"column:total_price_paise;not null"`
	IsActive        bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// UserSubscription binds a user to a purchased plan.
type UserSubscription struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID        uuid.UUID           `gorm:"column:plan_id;type:uuid;not null"`
	StartDate     time.Time           `gorm:"column:start_date;not null"`
	EndDate       time.Time           `gorm:"column:end_date;not null"`
	Status        string              `gorm:"column:status;type:text;not null;default:'ACTIVE'"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:text;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}
