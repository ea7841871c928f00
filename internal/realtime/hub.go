package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
	"github.com/nikhilbhatia/feastly-backend/pkg/metrics"
)

// Principal identifies the authenticated owner of a connection.
type Principal struct {
	UserID    uuid.UUID
	Role      enums.ActorRole
	KitchenID *uuid.UUID
	AgentID   *uuid.UUID
}

// ActionHandler executes inbound client actions against the domain
// services. The hub owns transport concerns; the handler owns semantics.
type ActionHandler interface {
	// CanJoinOrder authorizes a join_order request for the caller.
	CanJoinOrder(ctx context.Context, principal Principal, orderID uuid.UUID) error
	// HandleAction runs a request/response action and returns the reply
	// event. The hub stamps the request id onto the reply.
	HandleAction(ctx context.Context, principal Principal, action string, data json.RawMessage) (*Event, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks websocket clients by room and fans events out to them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
	conns int

	logg    *logger.Logger
	metrics *metrics.OrderMetrics
	handler ActionHandler
}

// NewHub builds an empty hub. The handler may be nil until wired.
func NewHub(logg *logger.Logger, m *metrics.OrderMetrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*client]struct{}),
		logg:    logg,
		metrics: m,
	}
}

// SetActionHandler wires the domain handler. Called once at startup;
// services need the hub as Publisher first, so this breaks the cycle.
func (h *Hub) SetActionHandler(handler ActionHandler) {
	h.handler = handler
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, principal Principal) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logg != nil {
			h.logg.Warn(r.Context(), "websocket upgrade failed")
		}
		return
	}

	c := newClient(h, conn, principal)

	h.mu.Lock()
	h.conns++
	h.metrics.SetConnections(h.conns)
	h.mu.Unlock()

	c.join(identityRoom(principal))

	go c.writePump()
	go c.readPump(r.Context())
}

func identityRoom(principal Principal) string {
	switch principal.Role {
	case enums.ActorRolePartner:
		if principal.KitchenID != nil {
			return KitchenRoom(*principal.KitchenID)
		}
	case enums.ActorRoleDeliveryAgent:
		if principal.AgentID != nil {
			return AgentRoom(*principal.AgentID)
		}
	}
	return UserRoom(principal.UserID)
}

// Publish sends the event to every client in the room. Slow clients are
// skipped rather than blocking the caller.
func (h *Hub) Publish(room string, event Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(event)
	}
}

func (h *Hub) ToUser(userID uuid.UUID, event Event) {
	h.Publish(UserRoom(userID), event)
}

func (h *Hub) ToKitchen(kitchenID uuid.UUID, event Event) {
	h.Publish(KitchenRoom(kitchenID), event)
}

func (h *Hub) ToAgent(agentID uuid.UUID, event Event) {
	h.Publish(AgentRoom(agentID), event)
}

func (h *Hub) ToOrder(orderID uuid.UUID, event Event) {
	h.Publish(OrderRoom(orderID), event)
}

// RoomSize reports the member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) addToRoom(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.conns--
	h.metrics.SetConnections(h.conns)
}

func (h *Hub) handleFrame(ctx context.Context, c *client, frame inboundFrame) {
	switch frame.Action {
	case ActionJoinOrder:
		h.handleJoinOrder(ctx, c, frame)
	case ActionCreateOrder, ActionKitchenAction:
		h.dispatchAction(ctx, c, frame)
	default:
		c.trySend(Event{
			Event:     EventError,
			RequestID: frame.RequestID,
			Data:      map[string]string{"message": "unknown action"},
		})
	}
}

func (h *Hub) handleJoinOrder(ctx context.Context, c *client, frame inboundFrame) {
	var payload struct {
		OrderID uuid.UUID `json:"order_id"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.OrderID == uuid.Nil {
		c.trySend(errorEvent(frame.RequestID, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")))
		return
	}
	if h.handler != nil {
		if err := h.handler.CanJoinOrder(ctx, c.principal, payload.OrderID); err != nil {
			c.trySend(errorEvent(frame.RequestID, err))
			return
		}
	}
	c.join(OrderRoom(payload.OrderID))
	c.trySend(Event{
		Event:     "joined",
		RequestID: frame.RequestID,
		Data:      map[string]string{"room": OrderRoom(payload.OrderID)},
	})
}

func (h *Hub) dispatchAction(ctx context.Context, c *client, frame inboundFrame) {
	if h.handler == nil {
		c.trySend(errorEvent(frame.RequestID, pkgerrors.New(pkgerrors.CodeDependency, "actions not available")))
		return
	}
	reply, err := h.handler.HandleAction(ctx, c.principal, frame.Action, frame.Data)
	if err != nil {
		c.trySend(errorEvent(frame.RequestID, err))
		return
	}
	if reply != nil {
		reply.RequestID = frame.RequestID
		c.trySend(*reply)
	}
}

func errorEvent(requestID string, err error) Event {
	data := map[string]string{"message": "internal error"}
	if typed := pkgerrors.As(err); typed != nil {
		meta := pkgerrors.MetadataFor(typed.Code())
		data = map[string]string{
			"code":    string(typed.Code()),
			"message": meta.PublicMessage,
		}
	}
	return Event{Event: EventError, RequestID: requestID, Data: data}
}
