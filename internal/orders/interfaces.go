package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

// Repository defines persistence for orders. Lifecycle transitions go
// through conditional updates keyed on the expected prior state so that
// concurrent actors are serialized at the database; the loser sees zero
// affected rows and maps that to a typed conflict.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)

	// UpdateIfStatus applies updates iff the order still has the expected
	// lifecycle status.
	UpdateIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.OrderStatus, updates map[string]any) (int64, error)
	// UpdateIfPaymentStatus applies updates iff the order's payment is
	// still in the expected state.
	UpdateIfPaymentStatus(ctx context.Context, orderID uuid.UUID, expected enums.PaymentStatus, updates map[string]any) (int64, error)
	// UpdateTipIfStatus applies updates iff the tip payment is still in
	// the expected state.
	UpdateTipIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.PaymentStatus, updates map[string]any) (int64, error)
	// UpdateTipIfUnpaid applies updates iff no tip has settled yet.
	UpdateTipIfUnpaid(ctx context.Context, orderID uuid.UUID, updates map[string]any) (int64, error)

	ListByUser(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error)
	ListByKitchen(ctx context.Context, params listParams) ([]models.Order, *pagination.Cursor, error)
}

type listParams struct {
	OwnerID uuid.UUID
	Status  *enums.OrderStatus
	Limit   int
	Cursor  *pagination.Cursor
}
