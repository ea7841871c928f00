package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/internal/notifications"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/metrics"
)

// memDeliveryRepo mirrors the conditional-update semantics of the SQL
// repository so race outcomes can be asserted without a database.
type memDeliveryRepo struct {
	agents map[uuid.UUID]*models.DeliveryAgent
	orders map[uuid.UUID]*models.Order
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{
		agents: make(map[uuid.UUID]*models.DeliveryAgent),
		orders: make(map[uuid.UUID]*models.Order),
	}
}

func (m *memDeliveryRepo) WithTx(tx *gorm.DB) Repository { return m }

func (m *memDeliveryRepo) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error) {
	agent, ok := m.agents[agentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *agent
	return &copied, nil
}

func (m *memDeliveryRepo) FindFirstAvailableAgent(ctx context.Context) (*models.DeliveryAgent, error) {
	var best *models.DeliveryAgent
	for _, agent := range m.agents {
		if agent.IsOnline && agent.IsAvailable {
			if best == nil || agent.CreatedAt.Before(best.CreatedAt) {
				best = agent
			}
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *best
	return &copied, nil
}

func (m *memDeliveryRepo) ClaimAgent(ctx context.Context, agentID, orderID uuid.UUID) (int64, error) {
	agent, ok := m.agents[agentID]
	if !ok || !agent.IsOnline || !agent.IsAvailable {
		return 0, nil
	}
	agent.IsAvailable = false
	agent.CurrentOrderID = &orderID
	return 1, nil
}

func (m *memDeliveryRepo) ReleaseAgent(ctx context.Context, agentID, orderID uuid.UUID) (int64, error) {
	agent, ok := m.agents[agentID]
	if !ok || agent.CurrentOrderID == nil || *agent.CurrentOrderID != orderID {
		return 0, nil
	}
	agent.IsAvailable = true
	agent.CurrentOrderID = nil
	return 1, nil
}

func (m *memDeliveryRepo) CreditAgentEarnings(ctx context.Context, agentID uuid.UUID, amountPaise int64) error {
	agent, ok := m.agents[agentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	agent.EarningsTodayPaise += amountPaise
	agent.EarningsTotalPaise += amountPaise
	return nil
}

func (m *memDeliveryRepo) SetAgentOnline(ctx context.Context, agentID uuid.UUID, online bool, now time.Time) error {
	agent, ok := m.agents[agentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	agent.IsOnline = online
	if online {
		agent.ShiftStartedAt = &now
		agent.ShiftEndedAt = nil
	} else {
		agent.ShiftEndedAt = &now
	}
	return nil
}

func (m *memDeliveryRepo) UpdateAgentLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64, now time.Time) error {
	agent, ok := m.agents[agentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	agent.LiveLat = &lat
	agent.LiveLng = &lng
	agent.LocationUpdatedAt = &now
	return nil
}

func (m *memDeliveryRepo) UpdateAgentRating(ctx context.Context, agentID uuid.UUID, average float64, count int) (int64, error) {
	agent, ok := m.agents[agentID]
	if !ok || agent.RatingCount != count-1 {
		return 0, nil
	}
	agent.RatingAverage = average
	agent.RatingCount = count
	return 1, nil
}

func (m *memDeliveryRepo) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memDeliveryRepo) BindOrder(ctx context.Context, orderID, agentID uuid.UUID) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok || order.DeliveryAgentID != nil {
		return 0, nil
	}
	order.DeliveryAgentID = &agentID
	return 1, nil
}

func (m *memDeliveryRepo) UnbindOrder(ctx context.Context, orderID, agentID uuid.UUID) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok || order.DeliveryAgentID == nil || *order.DeliveryAgentID != agentID {
		return 0, nil
	}
	order.DeliveryAgentID = nil
	order.PickedAt = nil
	return 1, nil
}

func (m *memDeliveryRepo) UpdateOrderIfStatus(ctx context.Context, orderID uuid.UUID, expected enums.OrderStatus, updates map[string]any) (int64, error) {
	order, ok := m.orders[orderID]
	if !ok || order.Status != expected {
		return 0, nil
	}
	for column, value := range updates {
		switch column {
		case "status":
			order.Status = value.(enums.OrderStatus)
		case "picked_at":
			t := value.(time.Time)
			order.PickedAt = &t
		case "delivered_at":
			t := value.(time.Time)
			order.DeliveredAt = &t
		case "payment_status":
			order.PaymentStatus = value.(enums.PaymentStatus)
		}
	}
	return 1, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubNotifier struct {
	agentInputs   []notifications.AgentInput
	partnerInputs []notifications.PartnerInput
}

func (s *stubNotifier) NotifyAgent(ctx context.Context, input notifications.AgentInput) (*models.DeliveryNotification, error) {
	s.agentInputs = append(s.agentInputs, input)
	return &models.DeliveryNotification{}, nil
}

func (s *stubNotifier) NotifyPartner(ctx context.Context, input notifications.PartnerInput) (*models.PartnerNotification, error) {
	s.partnerInputs = append(s.partnerInputs, input)
	return &models.PartnerNotification{}, nil
}

type recordingPublisher struct {
	events []realtime.Event
}

func (r *recordingPublisher) ToUser(_ uuid.UUID, e realtime.Event)    { r.events = append(r.events, e) }
func (r *recordingPublisher) ToKitchen(_ uuid.UUID, e realtime.Event) { r.events = append(r.events, e) }
func (r *recordingPublisher) ToAgent(_ uuid.UUID, e realtime.Event)   { r.events = append(r.events, e) }
func (r *recordingPublisher) ToOrder(_ uuid.UUID, e realtime.Event)   { r.events = append(r.events, e) }

func (r *recordingPublisher) names() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

func newDeliveryService(t *testing.T, repo Repository) (Service, *stubNotifier, *recordingPublisher) {
	t.Helper()
	notifier := &stubNotifier{}
	publisher := &recordingPublisher{}
	svc, err := NewService(
		repo,
		fakeTxRunner{},
		notifier,
		publisher,
		metrics.NewOrderMetrics(nil),
		logger.New(logger.Options{ServiceName: "test"}),
		config.DeliveryConfig{PerDeliveryFeePaise: 3000},
	)
	require.NoError(t, err)
	return svc, notifier, publisher
}

func seedAgent(repo *memDeliveryRepo, online, available bool) *models.DeliveryAgent {
	agent := &models.DeliveryAgent{
		ID:          uuid.New(),
		IsOnline:    online,
		IsAvailable: available,
		CreatedAt:   time.Now().UTC(),
	}
	repo.agents[agent.ID] = agent
	return agent
}

func seedOrder(repo *memDeliveryRepo, status enums.OrderStatus) *models.Order {
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		KitchenID:     uuid.New(),
		Status:        status,
		PaymentMethod: enums.PaymentMethodCOD,
		PaymentStatus: enums.PaymentStatusPending,
	}
	repo.orders[order.ID] = order
	return order
}

func TestAssignPicksFirstAvailableAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	seedAgent(repo, true, false)
	seedAgent(repo, false, true)
	order := seedOrder(repo, enums.OrderStatusPreparing)
	svc, notifier, publisher := newDeliveryService(t, repo)

	assigned, err := svc.Assign(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, assigned)

	stored := repo.orders[order.ID]
	require.NotNil(t, stored.DeliveryAgentID)
	assert.Equal(t, agent.ID, *stored.DeliveryAgentID)
	assert.False(t, repo.agents[agent.ID].IsAvailable)

	require.Len(t, notifier.agentInputs, 1)
	assert.Equal(t, enums.NotificationTypeOrderAssigned, notifier.agentInputs[0].Type)
	assert.Contains(t, publisher.names(), realtime.EventOrderAssigned)
}

func TestAssignNoAgentLeavesOrderUnassigned(t *testing.T) {
	repo := newMemDeliveryRepo()
	seedAgent(repo, false, true)
	order := seedOrder(repo, enums.OrderStatusPreparing)
	svc, _, _ := newDeliveryService(t, repo)

	assigned, err := svc.Assign(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, assigned)
	assert.Nil(t, repo.orders[order.ID].DeliveryAgentID)
}

func TestAcceptOrderOfflineAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, false, true)
	order := seedOrder(repo, enums.OrderStatusAccepted)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAgentUnavailable))
}

func TestAcceptOrderBusyAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, false)
	order := seedOrder(repo, enums.OrderStatusAccepted)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAgentBusy))
}

func TestAcceptOrderLosesRaceToOtherAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	winner := seedAgent(repo, true, true)
	loser := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusAccepted)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), winner.ID, order.ID)
	require.NoError(t, err)

	_, err = svc.AcceptOrder(context.Background(), loser.ID, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOrderAssigned))
	assert.True(t, repo.agents[loser.ID].IsAvailable)
}

func TestAcceptOrderIdempotentForSameAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusAccepted)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	again, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, *again.DeliveryAgentID)
}

func TestRejectOrderFreesAgentAndResetsStatus(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	svc, notifier, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RejectOrder(context.Background(), agent.ID, order.ID, "vehicle trouble"))

	stored := repo.orders[order.ID]
	assert.Nil(t, stored.DeliveryAgentID)
	assert.Equal(t, enums.OrderStatusAccepted, stored.Status)
	assert.True(t, repo.agents[agent.ID].IsAvailable)

	require.Len(t, notifier.partnerInputs, 1)
	assert.Equal(t, enums.NotificationTypeOrderRejected, notifier.partnerInputs[0].Type)
}

func TestRejectAfterPickupBlocked(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	_, err = svc.PickOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	err = svc.RejectOrder(context.Background(), agent.ID, order.ID, "changed my mind")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestPickOrderAllowedWhilePreparing(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusPreparing)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	updated, err := svc.PickOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusOutForDelivery, updated.Status)
}

func TestPickOrderRejectsUnstartedOrder(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusPlaced)
	repo.orders[order.ID].DeliveryAgentID = &agent.ID
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.PickOrder(context.Background(), agent.ID, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidOrderState))
}

func TestRejectedOrderStaysDeliverable(t *testing.T) {
	repo := newMemDeliveryRepo()
	first := seedAgent(repo, true, true)
	second := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), first.ID, order.ID)
	require.NoError(t, err)
	require.NoError(t, svc.RejectOrder(context.Background(), first.ID, order.ID, "vehicle trouble"))
	assert.Equal(t, enums.OrderStatusAccepted, repo.orders[order.ID].Status)

	_, err = svc.AcceptOrder(context.Background(), second.ID, order.ID)
	require.NoError(t, err)

	updated, err := svc.PickOrder(context.Background(), second.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusOutForDelivery, updated.Status)

	delivered, err := svc.CompleteOrder(context.Background(), second.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
}

func TestPickOrderEmitsDeliveryStarted(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	svc, _, publisher := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	updated, err := svc.PickOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusOutForDelivery, updated.Status)
	assert.NotNil(t, updated.PickedAt)
	assert.Contains(t, publisher.names(), realtime.EventDeliveryStarted)
}

func TestCompleteOrderSettlesCODAndCreditsAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	svc, _, publisher := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	_, err = svc.PickOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	updated, err := svc.CompleteOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusDelivered, updated.Status)
	assert.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
	assert.NotNil(t, updated.DeliveredAt)

	stored := repo.agents[agent.ID]
	assert.True(t, stored.IsAvailable)
	assert.Nil(t, stored.CurrentOrderID)
	assert.EqualValues(t, 3000, stored.EarningsTodayPaise)
	assert.EqualValues(t, 3000, stored.EarningsTotalPaise)

	assert.Contains(t, publisher.names(), realtime.EventOrderDelivered)
	assert.NotContains(t, publisher.names(), realtime.EventPaymentRequired)
}

func TestCompleteOrderOnlineStaysPendingAndAsksForPayment(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	order.PaymentMethod = enums.PaymentMethodOnline
	svc, _, publisher := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	_, err = svc.PickOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	updated, err := svc.CompleteOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusDelivered, updated.Status)
	assert.Equal(t, enums.PaymentStatusPending, updated.PaymentStatus)
	assert.Contains(t, publisher.names(), realtime.EventPaymentRequired)
}

func TestCompleteOrderWrongAgent(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	other := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusReady)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)
	_, err = svc.PickOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	_, err = svc.CompleteOrder(context.Background(), other.ID, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestToggleOnlineBlockedWithActiveOrder(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusAccepted)
	svc, _, _ := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	_, err = svc.ToggleOnline(context.Background(), agent.ID, false)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAgentBusy))
}

func TestToggleOnlineStampsShift(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, false, true)
	svc, _, _ := newDeliveryService(t, repo)

	updated, err := svc.ToggleOnline(context.Background(), agent.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsOnline)
	assert.NotNil(t, updated.ShiftStartedAt)

	updated, err = svc.ToggleOnline(context.Background(), agent.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsOnline)
	assert.NotNil(t, updated.ShiftEndedAt)
}

func TestUpdateLocationPublishesToOrderRoom(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	order := seedOrder(repo, enums.OrderStatusAccepted)
	svc, _, publisher := newDeliveryService(t, repo)

	_, err := svc.AcceptOrder(context.Background(), agent.ID, order.ID)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateLocation(context.Background(), agent.ID, 12.9716, 77.5946))
	assert.Contains(t, publisher.names(), realtime.EventAgentLocation)
}

func TestUpdateLocationRejectsOutOfRange(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	svc, _, _ := newDeliveryService(t, repo)

	err := svc.UpdateLocation(context.Background(), agent.ID, 120, 77)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestApplyRatingRunningAverage(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	agent.RatingAverage = 4.0
	agent.RatingCount = 3
	svc, _, _ := newDeliveryService(t, repo)

	require.NoError(t, svc.ApplyRatingTx(context.Background(), nil, agent.ID, 5))

	stored := repo.agents[agent.ID]
	assert.Equal(t, 4, stored.RatingCount)
	// (4.0*3 + 5) / 4 = 4.25
	assert.InDelta(t, 4.25, stored.RatingAverage, 0.001)
}

func TestApplyRatingRejectsOutOfRange(t *testing.T) {
	repo := newMemDeliveryRepo()
	agent := seedAgent(repo, true, true)
	svc, _, _ := newDeliveryService(t, repo)

	assert.Error(t, svc.ApplyRatingTx(context.Background(), nil, agent.ID, 0))
	assert.Error(t, svc.ApplyRatingTx(context.Background(), nil, agent.ID, 6))
}
