package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/pagination"
)

// Service persists notifications and pushes them over realtime channels.
// The database row is the source of truth; the push is best-effort.
type Service interface {
	NotifyPartner(ctx context.Context, input PartnerInput) (*models.PartnerNotification, error)
	NotifyAgent(ctx context.Context, input AgentInput) (*models.DeliveryNotification, error)
	ListPartner(ctx context.Context, params ListParams) (*PartnerListResult, error)
	ListAgent(ctx context.Context, params ListParams) (*AgentListResult, error)
	MarkPartnerRead(ctx context.Context, kitchenID, notificationID uuid.UUID) error
	MarkAgentRead(ctx context.Context, agentID, notificationID uuid.UUID) error
	MarkAllPartnerRead(ctx context.Context, kitchenID uuid.UUID) (int64, error)
	MarkAllAgentRead(ctx context.Context, agentID uuid.UUID) (int64, error)
}

type service struct {
	repo      Repository
	publisher realtime.Publisher
	logg      *logger.Logger
}

// PartnerInput describes a kitchen-facing notification.
type PartnerInput struct {
	KitchenID uuid.UUID
	Type      enums.NotificationType
	Title     string
	Message   string
	Data      any
}

// AgentInput describes an agent-facing notification.
type AgentInput struct {
	AgentID uuid.UUID
	Type    enums.NotificationType
	Title   string
	Message string
	Data    any
}

// ListParams configures pagination for notification feeds.
type ListParams struct {
	OwnerID    uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// PartnerListResult wraps returned notifications and the cursor for the next page.
type PartnerListResult struct {
	Items  []models.PartnerNotification `json:"items"`
	Cursor string                       `json:"cursor"`
}

// AgentListResult wraps returned notifications and the cursor for the next page.
type AgentListResult struct {
	Items  []models.DeliveryNotification `json:"items"`
	Cursor string                        `json:"cursor"`
}

// NewService wires notification dependencies.
func NewService(repo Repository, publisher realtime.Publisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{repo: repo, publisher: publisher, logg: logg}, nil
}

func (s *service) NotifyPartner(ctx context.Context, input PartnerInput) (*models.PartnerNotification, error) {
	if input.KitchenID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kitchen id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}

	payload, err := marshalData(input.Data)
	if err != nil {
		return nil, err
	}

	notification := &models.PartnerNotification{
		KitchenID: input.KitchenID,
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		Data:      payload,
	}
	if err := s.repo.CreatePartner(ctx, notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create partner notification")
	}

	s.publisher.ToKitchen(input.KitchenID, realtime.Event{
		Event: realtime.EventPartnerNotification,
		Data:  notification,
	})
	return notification, nil
}

func (s *service) NotifyAgent(ctx context.Context, input AgentInput) (*models.DeliveryNotification, error) {
	if input.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}

	payload, err := marshalData(input.Data)
	if err != nil {
		return nil, err
	}

	notification := &models.DeliveryNotification{
		AgentID: input.AgentID,
		Type:    input.Type,
		Title:   input.Title,
		Message: input.Message,
		Data:    payload,
	}
	if err := s.repo.CreateAgent(ctx, notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create agent notification")
	}

	s.publisher.ToAgent(input.AgentID, realtime.Event{
		Event: realtime.EventDeliveryNotification,
		Data:  notification,
	})
	return notification, nil
}

func (s *service) ListPartner(ctx context.Context, params ListParams) (*PartnerListResult, error) {
	query, err := buildListParams(params)
	if err != nil {
		return nil, err
	}

	rows, next, err := s.repo.ListPartner(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list partner notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &PartnerListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) ListAgent(ctx context.Context, params ListParams) (*AgentListResult, error) {
	query, err := buildListParams(params)
	if err != nil {
		return nil, err
	}

	rows, next, err := s.repo.ListAgent(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list agent notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &AgentListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) MarkPartnerRead(ctx context.Context, kitchenID, notificationID uuid.UUID) error {
	if kitchenID == uuid.Nil || notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "kitchen id and notification id required")
	}

	result, err := s.repo.MarkPartnerRead(ctx, kitchenID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark partner notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAgentRead(ctx context.Context, agentID, notificationID uuid.UUID) error {
	if agentID == uuid.Nil || notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id and notification id required")
	}

	result, err := s.repo.MarkAgentRead(ctx, agentID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark agent notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllPartnerRead(ctx context.Context, kitchenID uuid.UUID) (int64, error) {
	if kitchenID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "kitchen id required")
	}

	count, err := s.repo.MarkAllPartnerRead(ctx, kitchenID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark partner notifications read")
	}
	return count, nil
}

func (s *service) MarkAllAgentRead(ctx context.Context, agentID uuid.UUID) (int64, error) {
	if agentID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	count, err := s.repo.MarkAllAgentRead(ctx, agentID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark agent notifications read")
	}
	return count, nil
}

func buildListParams(params ListParams) (listParams, error) {
	if params.OwnerID == uuid.Nil {
		return listParams{}, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	query := listParams{
		OwnerID:    params.OwnerID,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return listParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	return query, nil
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal notification data")
	}
	return raw, nil
}
