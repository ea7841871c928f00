package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/api/validators"
	cartsvc "github.com/nikhilbhatia/feastly-backend/internal/cart"
	"github.com/nikhilbhatia/feastly-backend/pkg/db/models"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

// GetCart returns the caller's active cart.
func GetCart(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.Get(r.Context(), principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

type addCartItemRequest struct {
	MenuItemID uuid.UUID          `json:"menu_item_id" validate:"required"`
	Quantity   int                `json:"quantity" validate:"required,min=1"`
	Addons     []cartAddonPayload `json:"addons" validate:"dive"`
}

type cartAddonPayload struct {
	Name       string `json:"name" validate:"required"`
	PricePaise int64  `json:"price_paise" validate:"min=0"`
}

// AddCartItem adds a menu item to the caller's cart.
func AddCartItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		addons := make([]models.OrderItemAddon, len(payload.Addons))
		for i, addon := range payload.Addons {
			addons[i] = models.OrderItemAddon{Name: addon.Name, PricePaise: addon.PricePaise}
		}

		cart, err := svc.AddItem(r.Context(), cartsvc.AddItemInput{
			UserID:     principal.UserID,
			MenuItemID: payload.MenuItemID,
			Quantity:   payload.Quantity,
			Addons:     addons,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// UpdateCartItem changes an item's quantity; zero removes it.
func UpdateCartItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		itemID, err := validators.PathUUID(chi.URLParam(r, "itemId"), "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.UpdateItemQuantity(r.Context(), principal.UserID, itemID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

// RemoveCartItem deletes one line from the caller's cart.
func RemoveCartItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		itemID, err := validators.PathUUID(chi.URLParam(r, "itemId"), "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.RemoveItem(r.Context(), principal.UserID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

// ClearCart empties the caller's cart.
func ClearCart(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Clear(r.Context(), principal.UserID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"cleared": true})
	}
}
