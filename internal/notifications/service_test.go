package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

type stubNotificationsRepo struct {
	createPartner      func(ctx context.Context, notification *models.PartnerNotification) error
	createAgent        func(ctx context.Context, notification *models.DeliveryNotification) error
	markPartnerRead    func(ctx context.Context, kitchenID, notificationID uuid.UUID, now time.Time) (markResult, error)
	markAgentRead      func(ctx context.Context, agentID, notificationID uuid.UUID, now time.Time) (markResult, error)
	markAllPartnerRead func(ctx context.Context, kitchenID uuid.UUID, now time.Time) (int64, error)
	markAllAgentRead   func(ctx context.Context, agentID uuid.UUID, now time.Time) (int64, error)
}

func (s *stubNotificationsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubNotificationsRepo) CreatePartner(ctx context.Context, notification *models.PartnerNotification) error {
	if s.createPartner != nil {
		return s.createPartner(ctx, notification)
	}
	return nil
}

func (s *stubNotificationsRepo) CreateAgent(ctx context.Context, notification *models.DeliveryNotification) error {
	if s.createAgent != nil {
		return s.createAgent(ctx, notification)
	}
	return nil
}

func (s *stubNotificationsRepo) ListPartner(ctx context.Context, params listParams) ([]models.PartnerNotification, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (s *stubNotificationsRepo) ListAgent(ctx context.Context, params listParams) ([]models.DeliveryNotification, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (s *stubNotificationsRepo) MarkPartnerRead(ctx context.Context, kitchenID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	if s.markPartnerRead != nil {
		return s.markPartnerRead(ctx, kitchenID, notificationID, now)
	}
	return markResult{Found: true, Updated: true}, nil
}

func (s *stubNotificationsRepo) MarkAgentRead(ctx context.Context, agentID, notificationID uuid.UUID, now time.Time) (markResult, error) {
	if s.markAgentRead != nil {
		return s.markAgentRead(ctx, agentID, notificationID, now)
	}
	return markResult{Found: true, Updated: true}, nil
}

func (s *stubNotificationsRepo) MarkAllPartnerRead(ctx context.Context, kitchenID uuid.UUID, now time.Time) (int64, error) {
	if s.markAllPartnerRead != nil {
		return s.markAllPartnerRead(ctx, kitchenID, now)
	}
	return 0, nil
}

func (s *stubNotificationsRepo) MarkAllAgentRead(ctx context.Context, agentID uuid.UUID, now time.Time) (int64, error) {
	if s.markAllAgentRead != nil {
		return s.markAllAgentRead(ctx, agentID, now)
	}
	return 0, nil
}

type capturingPublisher struct {
	kitchenEvents []realtime.Event
	agentEvents   []realtime.Event
	userEvents    []realtime.Event
	orderEvents   []realtime.Event
}

func (c *capturingPublisher) ToUser(_ uuid.UUID, event realtime.Event) {
	c.userEvents = append(c.userEvents, event)
}

func (c *capturingPublisher) ToKitchen(_ uuid.UUID, event realtime.Event) {
	c.kitchenEvents = append(c.kitchenEvents, event)
}

func (c *capturingPublisher) ToAgent(_ uuid.UUID, event realtime.Event) {
	c.agentEvents = append(c.agentEvents, event)
}

func (c *capturingPublisher) ToOrder(_ uuid.UUID, event realtime.Event) {
	c.orderEvents = append(c.orderEvents, event)
}

func newTestService(t *testing.T, repo Repository, publisher realtime.Publisher) Service {
	t.Helper()
	svc, err := NewService(repo, publisher, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return svc
}

func TestNotifyPartnerPersistsThenPushes(t *testing.T) {
	kitchenID := uuid.New()
	var created *models.PartnerNotification
	repo := &stubNotificationsRepo{
		createPartner: func(ctx context.Context, notification *models.PartnerNotification) error {
			created = notification
			return nil
		},
	}
	publisher := &capturingPublisher{}
	svc := newTestService(t, repo, publisher)

	notification, err := svc.NotifyPartner(context.Background(), PartnerInput{
		KitchenID: kitchenID,
		Type:      enums.NotificationTypeNewOrder,
		Title:     "New order",
		Message:   "You have a new order",
		Data:      map[string]string{"order_id": uuid.NewString()},
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, kitchenID, created.KitchenID)
	assert.NotEmpty(t, notification.Data)

	require.Len(t, publisher.kitchenEvents, 1)
	assert.Equal(t, realtime.EventPartnerNotification, publisher.kitchenEvents[0].Event)
}

func TestNotifyPartnerDoesNotPushOnPersistFailure(t *testing.T) {
	repo := &stubNotificationsRepo{
		createPartner: func(ctx context.Context, notification *models.PartnerNotification) error {
			return assert.AnError
		},
	}
	publisher := &capturingPublisher{}
	svc := newTestService(t, repo, publisher)

	_, err := svc.NotifyPartner(context.Background(), PartnerInput{
		KitchenID: uuid.New(),
		Type:      enums.NotificationTypeNewOrder,
		Title:     "New order",
		Message:   "You have a new order",
	})
	require.Error(t, err)
	assert.Empty(t, publisher.kitchenEvents)
}

func TestNotifyAgentPersistsThenPushes(t *testing.T) {
	agentID := uuid.New()
	repo := &stubNotificationsRepo{}
	publisher := &capturingPublisher{}
	svc := newTestService(t, repo, publisher)

	_, err := svc.NotifyAgent(context.Background(), AgentInput{
		AgentID: agentID,
		Type:    enums.NotificationTypeOrderAssigned,
		Title:   "Order assigned",
		Message: "Pick up from the kitchen",
	})
	require.NoError(t, err)
	require.Len(t, publisher.agentEvents, 1)
	assert.Equal(t, realtime.EventDeliveryNotification, publisher.agentEvents[0].Event)
}

func TestNotifyRejectsInvalidType(t *testing.T) {
	svc := newTestService(t, &stubNotificationsRepo{}, &capturingPublisher{})

	_, err := svc.NotifyPartner(context.Background(), PartnerInput{
		KitchenID: uuid.New(),
		Type:      enums.NotificationType("BOGUS"),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestMarkPartnerReadIsIdempotent(t *testing.T) {
	calls := 0
	repo := &stubNotificationsRepo{
		markPartnerRead: func(ctx context.Context, kitchenID, notificationID uuid.UUID, now time.Time) (markResult, error) {
			calls++
			if calls == 1 {
				return markResult{Found: true, Updated: true}, nil
			}
			return markResult{Found: true, Updated: false}, nil
		},
	}
	svc := newTestService(t, repo, &capturingPublisher{})

	kitchenID, notificationID := uuid.New(), uuid.New()
	require.NoError(t, svc.MarkPartnerRead(context.Background(), kitchenID, notificationID))
	require.NoError(t, svc.MarkPartnerRead(context.Background(), kitchenID, notificationID))
}

func TestMarkPartnerReadUnknownID(t *testing.T) {
	repo := &stubNotificationsRepo{
		markPartnerRead: func(ctx context.Context, kitchenID, notificationID uuid.UUID, now time.Time) (markResult, error) {
			return markResult{Found: false}, nil
		},
	}
	svc := newTestService(t, repo, &capturingPublisher{})

	err := svc.MarkPartnerRead(context.Background(), uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMarkAllAgentReadReturnsCount(t *testing.T) {
	repo := &stubNotificationsRepo{
		markAllAgentRead: func(ctx context.Context, agentID uuid.UUID, now time.Time) (int64, error) {
			return 4, nil
		},
	}
	svc := newTestService(t, repo, &capturingPublisher{})

	count, err := svc.MarkAllAgentRead(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)
}
