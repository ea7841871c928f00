package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

// Repository defines persistence operations for agents and order binding.
// The conditional updates return affected row counts so callers can tell
// winners from losers when concurrent requests race.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error)
	FindFirstAvailableAgent(ctx context.Context) (*models.DeliveryAgent, error)
	// ClaimAgent marks the agent busy with the order iff it is still
	// online and available.
	ClaimAgent(ctx context.Context, agentID, orderID uuid.UUID) (int64, error)
	// ReleaseAgent frees the agent iff it currently holds the order.
	ReleaseAgent(ctx context.Context, agentID, orderID uuid.UUID) (int64, error)
	CreditAgentEarnings(ctx context.Context, agentID uuid.UUID, amountPaise int64) error
	SetAgentOnline(ctx context.Context, agentID uuid.UUID, online bool, now time.Time) error
	UpdateAgentLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64, now time.Time) error
	UpdateAgentRating(ctx context.Context, agentID uuid.UUID, average float64, count int) (int64, error)

	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// BindOrder sets the agent iff the order is still unassigned.
	BindOrder(ctx context.Context, orderID, agentID uuid.UUID) (int64, error)
	// UnbindOrder clears the agent and pickup timestamp iff this agent
	// holds the order.
	UnbindOrder(ctx context.Context, orderID, agentID uuid.UUID) (int64, error)
	// UpdateOrderIfStatus applies updates iff the order still has the
	// expected status.
	UpdateOrderIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.OrderStatus, updates map[string]any) (int64, error)
}
