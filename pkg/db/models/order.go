package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

// Order is the aggregate root of the delivery lifecycle. Price details are
// computed once at creation and frozen for payment reconciliation; status
// transitions are guarded by conditional updates keyed on the prior status.
type Order struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	KitchenID       uuid.UUID  `gorm:"column:kitchen_id;type:uuid;not null;index"`
	DeliveryAgentID *uuid.UUID `gorm:"column:delivery_agent_id;type:uuid;index"`

	Status enums.OrderStatus `gorm:"column:status;type:text;not null;default:'PLACED'"`

	ItemTotalPaise      int64 `gorm:"column:item_total_paise;not null"`
	TaxPaise            int64 `gorm:"column:tax_paise;not null;default:0"`
	DeliveryChargePaise int64 `gorm:"column:delivery_charge_paise;not null;default:0"`
	PlatformFeePaise    int64 `gorm:"column:platform_fee_paise;not null;default:0"`
	DiscountPaise       int64 `gorm:"column:discount_paise;not null;default:0"`
	TotalAmountPaise    int64 `gorm:"column:total_amount_paise;not null"`

	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'COD'"`
	PaymentStatus    enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'PENDING'"`
	PaymentGateway   *enums.Gateway      `gorm:"column:payment_gateway;type:text"`
	GatewayOrderID   *string             `gorm:"column:gateway_order_id;type:text"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id;type:text"`

	DeliveryAddress string   `gorm:"column:delivery_address;type:text"`
	DeliveryLat     *float64 `gorm:"column:delivery_lat"`
	DeliveryLng     *float64 `gorm:"column:delivery_lng"`

	PlacedAt    time.Time  `gorm:"column:placed_at;not null"`
	AcceptedAt  *time.Time `gorm:"column:accepted_at"`
	PreparingAt *time.Time `gorm:"column:preparing_at"`
	ReadyAt     *time.Time `gorm:"column:ready_at"`
	PickedAt    *time.Time `gorm:"column:picked_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	CancelledBy        *enums.CancelledBy `gorm:"column:cancelled_by;type:text"`
	CancellationReason *string            `gorm:"column:cancellation_reason;type:text"`

	PartnerRating  *int    `gorm:"column:partner_rating"`
	DeliveryRating *int    `gorm:"column:delivery_rating"`
	Review         *string `gorm:"column:review;type:text"`

	TipAmountPaise      int64                `gorm:"column:tip_amount_paise;not null;default:0"`
	TipPaymentMethod    *enums.Gateway       `gorm:"column:tip_payment_method;type:text"`
	TipPaymentStatus    *enums.PaymentStatus `gorm:"column:tip_payment_status;type:text"`
	TipGatewayOrderID   *string              `gorm:"column:tip_gateway_order_id;type:text"`
	TipGatewayPaymentID *string              `gorm:"column:tip_gateway_payment_id;type:text"`
	TippedAt            *time.Time           `gorm:"column:tipped_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItemAddon is a frozen addon snapshot serialized into the item row.
type OrderItemAddon struct {
	Name       string `json:"name"`
	PricePaise int64  `json:"price_paise"`
}

// OrderItem snapshots a menu item at order time; later menu edits must not
// retroactively change historical orders.
type OrderItem struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID        `gorm:"column:order_id;type:uuid;not null;index"`
	MenuItemID uuid.UUID        `gorm:"column:menu_item_id;type:uuid;not null"`
	Name       string           `gorm:"column:name;type:text;not null"`
	PricePaise int64            `gorm:"column:price_paise;not null"`
	Quantity   int              `gorm:"column:quantity;not null"`
	Addons     []OrderItemAddon `gorm:"column:addons;type:jsonb;serializer:json"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
}
