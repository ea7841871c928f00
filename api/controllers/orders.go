package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/api/validators"
	ordersvc "github.com/nikhilbhatia/feastly-backend/internal/orders"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

type createOrderRequest struct {
	PaymentMethod   string   `json:"payment_method" validate:"required"`
	Gateway         string   `json:"gateway"`
	DeliveryAddress string   `json:"delivery_address" validate:"required,min=10"`
	DeliveryLat     *float64 `json:"delivery_lat"`
	DeliveryLng     *float64 `json:"delivery_lng"`
}

// CreateOrder converts the caller's cart into an order.
func CreateOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		input := ordersvc.CreateInput{
			UserID:          principal.UserID,
			PaymentMethod:   method,
			DeliveryAddress: payload.DeliveryAddress,
			DeliveryLat:     payload.DeliveryLat,
			DeliveryLng:     payload.DeliveryLng,
		}
		if payload.Gateway != "" {
			gateway, err := enums.ParseGateway(payload.Gateway)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gateway"))
				return
			}
			input.Gateway = gateway
		}

		result, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ListMyOrders returns the caller's order history.
func ListMyOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := orderListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.OwnerID = principal.UserID

		result, err := svc.ListMine(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListKitchenOrders returns the partner's order feed.
func ListKitchenOrders(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kitchen, err := requireKitchen(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := orderListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.OwnerID = kitchen

		result, err := svc.ListForKitchen(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// OrderDetail returns a single order owned by the caller.
func OrderDetail(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Detail(r.Context(), principal.UserID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels a pre-pickup order for the customer.
func CancelOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := svc.Cancel(r.Context(), principal.UserID, orderID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type kitchenActionRequest struct {
	Action string `json:"action" validate:"required,oneof=ACCEPT REJECT"`
	Reason string `json:"reason"`
}

// KitchenAction accepts or rejects a placed order.
func KitchenAction(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kitchen, err := requireKitchen(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload kitchenActionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.KitchenAction(r.Context(), ordersvc.KitchenActionInput{
			KitchenID: kitchen,
			OrderID:   orderID,
			Action:    payload.Action,
			Reason:    payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// MarkOrderReady moves a preparing order to READY.
func MarkOrderReady(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kitchen, err := requireKitchen(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.MarkReady(r.Context(), kitchen, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type retryPaymentRequest struct {
	Gateway string `json:"gateway"`
}

// RetryOrderPayment re-creates the gateway charge for an unpaid online
// order whose first charge attempt failed.
func RetryOrderPayment(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload retryPaymentRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		var gateway enums.Gateway
		if payload.Gateway != "" {
			gateway, err = enums.ParseGateway(payload.Gateway)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gateway"))
				return
			}
		}

		result, err := svc.RetryPayment(r.Context(), principal.UserID, orderID, gateway)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type confirmPaymentRequest struct {
	OrderID   uuid.UUID `json:"order_id" validate:"required"`
	Gateway   string    `json:"gateway" validate:"required"`
	PaymentID string    `json:"payment_id"`
	Signature string    `json:"signature"`
	IntentID  string    `json:"intent_id"`
}

// ConfirmOrderPayment verifies the gateway proof and settles the order.
func ConfirmOrderPayment(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gateway, err := enums.ParseGateway(payload.Gateway)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gateway"))
			return
		}

		order, err := svc.ConfirmPayment(r.Context(), ordersvc.ConfirmPaymentInput{
			UserID:    principal.UserID,
			OrderID:   payload.OrderID,
			Gateway:   gateway,
			PaymentID: payload.PaymentID,
			Signature: payload.Signature,
			IntentID:  payload.IntentID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type rateOrderRequest struct {
	PartnerRating  *int    `json:"partner_rating" validate:"omitempty,min=1,max=5"`
	DeliveryRating *int    `json:"delivery_rating" validate:"omitempty,min=1,max=5"`
	Review         *string `json:"review"`
}

// RateOrder stores post-delivery ratings.
func RateOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload rateOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Rate(r.Context(), ordersvc.RateInput{
			UserID:         principal.UserID,
			OrderID:        orderID,
			PartnerRating:  payload.PartnerRating,
			DeliveryRating: payload.DeliveryRating,
			Review:         payload.Review,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

type addTipRequest struct {
	AmountPaise int64  `json:"amount_paise" validate:"required,gt=0"`
	Method      string `json:"method" validate:"required"`
}

// AddTip starts a tip for the order's delivery agent.
func AddTip(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addTipRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParseGateway(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tip method"))
			return
		}

		result, err := svc.AddTip(r.Context(), ordersvc.TipInput{
			UserID:      principal.UserID,
			OrderID:     orderID,
			AmountPaise: payload.AmountPaise,
			Method:      method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type confirmTipRequest struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// ConfirmTip settles a gateway tip after the client completes payment.
func ConfirmTip(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := validators.PathUUID(chi.URLParam(r, "orderId"), "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmTipRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ConfirmTip(r.Context(), ordersvc.ConfirmTipInput{
			UserID:    principal.UserID,
			OrderID:   orderID,
			PaymentID: payload.PaymentID,
			Signature: payload.Signature,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func orderListParams(r *http.Request) (ordersvc.ListParams, error) {
	params := ordersvc.ListParams{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return params, pkgerrors.New(pkgerrors.CodeValidation, "limit must be numeric")
		}
		params.Limit = limit
	}
	return params, nil
}
