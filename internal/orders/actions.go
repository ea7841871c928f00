package orders

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

// actionHandler adapts the order service to the realtime hub's inbound
// actions. Replies carry the same shape as the REST responses so a
// client can use either surface interchangeably.
type actionHandler struct {
	svc Service
}

// NewActionHandler wires the hub's action dispatch to the order service.
func NewActionHandler(svc Service) realtime.ActionHandler {
	return &actionHandler{svc: svc}
}

func (h *actionHandler) CanJoinOrder(ctx context.Context, principal realtime.Principal, orderID uuid.UUID) error {
	return h.svc.AuthorizeAccess(ctx, principal, orderID)
}

type createOrderAction struct {
	PaymentMethod   string   `json:"payment_method"`
	Gateway         string   `json:"gateway"`
	DeliveryAddress string   `json:"delivery_address"`
	DeliveryLat     *float64 `json:"delivery_lat"`
	DeliveryLng     *float64 `json:"delivery_lng"`
}

type kitchenActionFrame struct {
	OrderID uuid.UUID `json:"order_id"`
	Action  string    `json:"action"`
	Reason  string    `json:"reason"`
}

func (h *actionHandler) HandleAction(ctx context.Context, principal realtime.Principal, action string, data json.RawMessage) (*realtime.Event, error) {
	switch action {
	case realtime.ActionCreateOrder:
		return h.createOrder(ctx, principal, data)
	case realtime.ActionKitchenAction:
		return h.kitchenAction(ctx, principal, data)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown action")
	}
}

func (h *actionHandler) createOrder(ctx context.Context, principal realtime.Principal, data json.RawMessage) (*realtime.Event, error) {
	if principal.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can place orders")
	}

	var payload createOrderAction
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid create_order payload")
		}
	}

	method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method")
	}
	input := CreateInput{
		UserID:          principal.UserID,
		PaymentMethod:   method,
		DeliveryAddress: payload.DeliveryAddress,
		DeliveryLat:     payload.DeliveryLat,
		DeliveryLng:     payload.DeliveryLng,
	}
	if payload.Gateway != "" {
		gateway, err := enums.ParseGateway(payload.Gateway)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gateway")
		}
		input.Gateway = gateway
	}

	result, err := h.svc.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	return &realtime.Event{
		Event: realtime.EventOrderStatusUpdate,
		Data: map[string]any{
			"status":  "created",
			"order":   result.Order,
			"payment": result.Payment,
		},
	}, nil
}

func (h *actionHandler) kitchenAction(ctx context.Context, principal realtime.Principal, data json.RawMessage) (*realtime.Event, error) {
	if principal.Role != enums.ActorRolePartner || principal.KitchenID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only kitchen partners can act on orders")
	}

	var payload kitchenActionFrame
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kitchen_action payload")
	}

	order, err := h.svc.KitchenAction(ctx, KitchenActionInput{
		KitchenID: *principal.KitchenID,
		OrderID:   payload.OrderID,
		Action:    payload.Action,
		Reason:    payload.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &realtime.Event{
		Event: realtime.EventOrderStatusUpdate,
		Data: map[string]any{
			"status": "ok",
			"order":  order,
		},
	}, nil
}
