package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

// PartnerNotification stores kitchen-facing in-app notifications.
// Created once; only ReadAt is ever mutated.
type PartnerNotification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	KitchenID uuid.UUID              `gorm:"column:kitchen_id;type:uuid;not null;index"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null"`
	Title     string                 `gorm:"column:title;type:text;not null"`
	Message   string                 `gorm:"column:message;type:text;not null"`
	Data      json.RawMessage        `gorm:"column:data;type:jsonb"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// DeliveryNotification stores agent-facing in-app notifications.
type DeliveryNotification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID   uuid.UUID              `gorm:"column:agent_id;type:uuid;not null;index"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null"`
	Title     string                 `gorm:"column:title;type:text;not null"`
	Message   string                 `gorm:"column:message;type:text;not null"`
	Data      json.RawMessage        `gorm:"column:data;type:jsonb"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
