package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/api/validators"
	subssvc "github.com/nikhilbhatia/feastly-backend/internal/subscriptions"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

// ListSubscriptionPlans returns the active meal plans.
func ListSubscriptionPlans(svc subssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.ListPlans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plans)
	}
}

type purchaseSubscriptionRequest struct {
	PlanID        uuid.UUID `json:"plan_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required"`
}

// PurchaseSubscription buys a meal plan for the caller.
func PurchaseSubscription(svc subssvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		result, err := svc.Purchase(r.Context(), subssvc.PurchaseInput{
			UserID:        principal.UserID,
			PlanID:        payload.PlanID,
			PaymentMethod: method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
