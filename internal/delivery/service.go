package delivery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
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

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	NotifyAgent(ctx context.Context, input notifications.AgentInput) (*models.DeliveryNotification, error)
	NotifyPartner(ctx context.Context, input notifications.PartnerInput) (*models.PartnerNotification, error)
}

// Service runs the delivery side of the order lifecycle. Concurrent
// claims on the same order or agent are serialized by conditional
// updates; losers get a typed conflict instead of a double booking.
type Service interface {
	Assign(ctx context.Context, orderID uuid.UUID) (bool, error)
	AcceptOrder(ctx context.Context, agentID, orderID uuid.UUID) (*models.Order, error)
	RejectOrder(ctx context.Context, agentID, orderID uuid.UUID, reason string) error
	PickOrder(ctx context.Context, agentID, orderID uuid.UUID) (*models.Order, error)
	CompleteOrder(ctx context.Context, agentID, orderID uuid.UUID) (*models.Order, error)
	ToggleOnline(ctx context.Context, agentID uuid.UUID, online bool) (*models.DeliveryAgent, error)
	UpdateLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64) error
	Profile(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error)
	ApplyRatingTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, rating int) error
	CreditEarningsTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, amountPaise int64) error
	ReleaseAgentTx(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	notifier  notifier
	publisher realtime.Publisher
	metrics   *metrics.OrderMetrics
	logg      *logger.Logger
	cfg       config.DeliveryConfig
}

// acceptableStatuses is the window in which an agent may take an order.
// Kitchen accept auto-advances to PREPARING, so that state counts too.
var acceptableStatuses = map[enums.OrderStatus]bool{
	enums.OrderStatusAccepted:  true,
	enums.OrderStatusPreparing: true,
	enums.OrderStatusReady:     true,
}

// NewService wires the delivery dependencies.
func NewService(repo Repository, tx txRunner, notifier notifier, publisher realtime.Publisher, m *metrics.OrderMetrics, logg *logger.Logger, cfg config.DeliveryConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{
		repo:      repo,
		tx:        tx,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		logg:      logg,
		cfg:       cfg,
	}, nil
}

// Assign offers the order to the first online, available agent. No geo
// ranking; first match wins. Returns false when no agent is free.
func (s *service) Assign(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.DeliveryAgentID != nil {
		return true, nil
	}
	if !acceptableStatuses[order.Status] {
		return false, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order not ready for assignment").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	agent, err := s.repo.FindFirstAvailableAgent(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find available agent")
	}

	if err := s.bind(ctx, agent.ID, orderID); err != nil {
		// Lost the race; the order stays unassigned for a later retry.
		if s.logg != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "assignment race lost")
		}
		return false, nil
	}

	s.announceAssignment(ctx, agent.ID, order)
	return true, nil
}

// AcceptOrder lets an agent claim an order directly. Re-accepting an
// order the agent already holds is a no-op success.
func (s *service) AcceptOrder(ctx context.Context, agentID, orderID uuid.UUID) (*models.Order, error) {
	if agentID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id and order id required")
	}

	agent, err := s.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsOnline {
		return nil, pkgerrors.New(pkgerrors.CodeAgentUnavailable, "agent is offline")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryAgentID != nil {
		if *order.DeliveryAgentID == agentID {
			return order, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeOrderAssigned, "order already has an agent")
	}
	if !acceptableStatuses[order.Status] {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order cannot be accepted now").
			WithDetails(map[string]string{"status": order.Status.String()})
	}
	if !agent.IsAvailable {
		return nil, pkgerrors.New(pkgerrors.CodeAgentBusy, "agent already holds an order")
	}

	if err := s.bind(ctx, agentID, orderID); err != nil {
		return nil, err
	}

	s.announceAssignment(ctx, agentID, order)
	return s.loadOrder(ctx, orderID)
}

func (s *service) bind(ctx context.Context, agentID, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		claimed, err := repo.ClaimAgent(ctx, agentID, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim agent")
		}
		if claimed == 0 {
			return pkgerrors.New(pkgerrors.CodeAgentBusy, "agent no longer available")
		}

		bound, err := repo.BindOrder(ctx, orderID, agentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind order")
		}
		if bound == 0 {
			return pkgerrors.New(pkgerrors.CodeOrderAssigned, "order already has an agent")
		}
		return nil
	})
}

func (s *service) announceAssignment(ctx context.Context, agentID uuid.UUID, order *models.Order) {
	payload := map[string]any{
		"order_id": order.ID,
		"agent_id": agentID,
		"status":   order.Status,
	}
	if _, err := s.notifier.NotifyAgent(ctx, notifications.AgentInput{
		AgentID: agentID,
		Type:    enums.NotificationTypeOrderAssigned,
		Title:   "New delivery assigned",
		Message: "You have been assigned a new delivery",
		Data:    payload,
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "persist assignment notification", err)
	}

	event := realtime.Event{Event: realtime.EventOrderAssigned, Data: payload}
	s.publisher.ToAgent(agentID, event)
	s.publisher.ToUser(order.UserID, event)
	s.publisher.ToOrder(order.ID, event)
}

// RejectOrder hands the order back before pickup. The order returns to
// ACCEPTED so another agent can be found.
func (s *service) RejectOrder(ctx context.Context, agentID, orderID uuid.UUID, reason string) error {
	if agentID == uuid.Nil || orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id and order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DeliveryAgentID == nil || *order.DeliveryAgentID != agentID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order not bound to this agent")
	}
	if order.Status == enums.OrderStatusOutForDelivery || order.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeInvalidOrderState, "cannot reject after pickup").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		unbound, err := repo.UnbindOrder(ctx, orderID, agentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unbind order")
		}
		if unbound == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order binding changed")
		}
		if _, err := repo.UpdateOrderIfStatus(ctx, orderID, order.Status, map[string]any{
			"status": enums.OrderStatusAccepted,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset order status")
		}
		if _, err := repo.ReleaseAgent(ctx, agentID, orderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release agent")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := s.notifier.NotifyPartner(ctx, notifications.PartnerInput{
		KitchenID: order.KitchenID,
		Type:      enums.NotificationTypeOrderRejected,
		Title:     "Delivery agent declined",
		Message:   "The assigned agent declined the delivery",
		Data: map[string]any{
			"order_id": order.ID,
			"reason":   reason,
		},
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "persist rejection notification", err)
	}
	return nil
}

// PickOrder marks the handoff from kitchen to agent. Pickup shares the
// accept window: a rejected order that went back to ACCEPTED must stay
// deliverable once another agent takes it.
func (s *service) PickOrder(ctx context.Context, agentID, orderID uuid.UUID) (*models.Order, error) {
	if agentID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id and order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryAgentID == nil || *order.DeliveryAgentID != agentID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not bound to this agent")
	}
	if !acceptableStatuses[order.Status] {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order cannot be picked up").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	now := time.Now().UTC()
	affected, err := s.repo.UpdateOrderIfStatus(ctx, orderID, order.Status, map[string]any{
		"status":    enums.OrderStatusOutForDelivery,
		"picked_at": now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order picked")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order status changed").
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	event := realtime.Event{Event: realtime.EventDeliveryStarted, Data: map[string]any{
		"order_id":  order.ID,
		"agent_id":  agentID,
		"picked_at": now,
	}}
	s.publisher.ToUser(order.UserID, event)
	s.publisher.ToOrder(order.ID, event)
	s.publisher.ToKitchen(order.KitchenID, event)

	return s.loadOrder(ctx, orderID)
}

// CompleteOrder finishes the delivery. COD and wallet orders settle as
// PAID here; online orders stay PENDING until the customer confirms the
// gateway payment.
func (s *service) CompleteOrder(ctx context.Context, agentID, orderID uuid.UUID) (*models.Order, error) {
	if agentID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id and order id required")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryAgentID == nil || *order.DeliveryAgentID != agentID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not bound to this agent")
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":       enums.OrderStatusDelivered,
		"delivered_at": now,
	}
	if order.PaymentMethod != enums.PaymentMethodOnline && order.PaymentStatus == enums.PaymentStatusPending {
		updates["payment_status"] = enums.PaymentStatusPaid
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		affected, err := repo.UpdateOrderIfStatus(ctx, orderID, enums.OrderStatusOutForDelivery, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order delivered")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order is not out for delivery").
				WithDetails(map[string]string{"status": order.Status.String()})
		}

		if _, err := repo.ReleaseAgent(ctx, agentID, orderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release agent")
		}
		if err := repo.CreditAgentEarnings(ctx, agentID, s.cfg.PerDeliveryFeePaise); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit agent earnings")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncDelivered()

	event := realtime.Event{Event: realtime.EventOrderDelivered, Data: map[string]any{
		"order_id":     order.ID,
		"delivered_at": now,
	}}
	s.publisher.ToUser(order.UserID, event)
	s.publisher.ToOrder(order.ID, event)
	s.publisher.ToKitchen(order.KitchenID, event)

	if order.PaymentMethod == enums.PaymentMethodOnline && order.PaymentStatus == enums.PaymentStatusPending {
		s.publisher.ToUser(order.UserID, realtime.Event{
			Event: realtime.EventPaymentRequired,
			Data: map[string]any{
				"order_id":     order.ID,
				"amount_paise": order.TotalAmountPaise,
			},
		})
	}

	if _, err := s.notifier.NotifyPartner(ctx, notifications.PartnerInput{
		KitchenID: order.KitchenID,
		Type:      enums.NotificationTypeOrderDelivered,
		Title:     "Order delivered",
		Message:   "The order reached the customer",
		Data:      map[string]any{"order_id": order.ID},
	}); err != nil && s.logg != nil {
		s.logg.Error(ctx, "persist delivery notification", err)
	}

	return s.loadOrder(ctx, orderID)
}

// ToggleOnline starts or ends a shift. Going offline while holding an
// order is rejected.
func (s *service) ToggleOnline(ctx context.Context, agentID uuid.UUID, online bool) (*models.DeliveryAgent, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	agent, err := s.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !online && agent.CurrentOrderID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAgentBusy, "finish the active delivery before going offline")
	}

	if err := s.repo.SetAgentOnline(ctx, agentID, online, time.Now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent shift")
	}
	return s.loadAgent(ctx, agentID)
}

func (s *service) UpdateLocation(ctx context.Context, agentID uuid.UUID, lat, lng float64) error {
	if agentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return pkgerrors.New(pkgerrors.CodeValidation, "coordinates out of range")
	}

	agent, err := s.loadAgent(ctx, agentID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateAgentLocation(ctx, agentID, lat, lng, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent location")
	}

	if agent.CurrentOrderID != nil {
		s.publisher.ToOrder(*agent.CurrentOrderID, realtime.Event{
			Event: realtime.EventAgentLocation,
			Data: map[string]any{
				"agent_id":   agentID,
				"lat":        lat,
				"lng":        lng,
				"updated_at": now,
			},
		})
	}
	return nil
}

func (s *service) Profile(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	return s.loadAgent(ctx, agentID)
}

// ApplyRatingTx folds a 1..5 rating into the agent's running average.
// The count acts as an optimistic version; concurrent raters retry.
func (s *service) ApplyRatingTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, rating int) error {
	if rating < 1 || rating > 5 {
		return pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}

	repo := s.repo.WithTx(tx)
	for attempt := 0; attempt < 3; attempt++ {
		agent, err := repo.FindAgent(ctx, agentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
		}

		newCount := agent.RatingCount + 1
		newAvg := math.Round((agent.RatingAverage*float64(agent.RatingCount)+float64(rating))/float64(newCount)*100) / 100

		affected, err := repo.UpdateAgentRating(ctx, agentID, newAvg, newCount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent rating")
		}
		if affected > 0 {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "rating update contended")
}

// CreditEarningsTx bumps the agent's earnings counters inside the
// caller's transaction. Used for tips settled alongside order rows.
func (s *service) CreditEarningsTx(ctx context.Context, tx *gorm.DB, agentID uuid.UUID, amountPaise int64) error {
	if agentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if amountPaise <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if err := s.repo.WithTx(tx).CreditAgentEarnings(ctx, agentID, amountPaise); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit agent earnings")
	}
	return nil
}

// ReleaseAgentTx frees the agent bound to the order inside the caller's
// transaction. A no-op when the binding already moved on.
func (s *service) ReleaseAgentTx(ctx context.Context, tx *gorm.DB, agentID, orderID uuid.UUID) error {
	if agentID == uuid.Nil || orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "agent id and order id required")
	}
	if _, err := s.repo.WithTx(tx).ReleaseAgent(ctx, agentID, orderID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release agent")
	}
	return nil
}

func (s *service) loadAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error) {
	agent, err := s.repo.FindAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
	}
	return agent, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
