package realtime

import (
	"github.com/google/uuid"
)

// Event names pushed to connected clients.
const (
	EventNewOrder             = "new_order"
	EventOrderAccepted        = "order_accepted"
	EventOrderCancelled       = "order_cancelled"
	EventOrderStatusUpdate    = "order_status_update"
	EventOrderAssigned        = "order_assigned"
	EventDeliveryStarted      = "delivery_started"
	EventOrderDelivered       = "order_delivered"
	EventPaymentRequired      = "payment_required"
	EventPaymentSuccess       = "payment_success"
	EventWalletRefunded       = "wallet_refunded"
	EventDeliveryNotification = "delivery_notification"
	EventPartnerNotification  = "partner_notification"
	EventAgentLocation        = "agent_location"
	EventError                = "error"
)

// Inbound actions clients may send.
const (
	ActionJoinOrder     = "join_order"
	ActionCreateOrder   = "create_order"
	ActionKitchenAction = "kitchen_action"
)

// Event is a single frame pushed to a client. RequestID echoes the id of
// the inbound action that produced it, when there was one.
type Event struct {
	Event     string `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Room name builders. Every connection is auto-joined to its identity
// room; order rooms are joined on request after an ownership check.
func UserRoom(userID uuid.UUID) string {
	return "user_" + userID.String()
}

func KitchenRoom(kitchenID uuid.UUID) string {
	return "kitchen_" + kitchenID.String()
}

func AgentRoom(agentID uuid.UUID) string {
	return "delivery_" + agentID.String()
}

func OrderRoom(orderID uuid.UUID) string {
	return "order_" + orderID.String()
}

// Publisher pushes events to realtime rooms. Services hold this interface
// so they stay testable without a live hub.
type Publisher interface {
	ToUser(userID uuid.UUID, event Event)
	ToKitchen(kitchenID uuid.UUID, event Event)
	ToAgent(agentID uuid.UUID, event Event)
	ToOrder(orderID uuid.UUID, event Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) ToUser(uuid.UUID, Event)    {}
func (NopPublisher) ToKitchen(uuid.UUID, Event) {}
func (NopPublisher) ToAgent(uuid.UUID, Event)   {}
func (NopPublisher) ToOrder(uuid.UUID, Event)   {}
