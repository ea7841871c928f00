package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/api/validators"
	notifsvc "github.com/nikhilbhatia/feastly-backend/internal/notifications"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

// ListPartnerNotifications returns the kitchen's notification feed.
func ListPartnerNotifications(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kitchen, err := requireKitchen(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := notificationListParams(r, kitchen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListPartner(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MarkPartnerNotificationRead marks one kitchen notification as read.
func MarkPartnerNotificationRead(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kitchen, err := requireKitchen(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		notificationID, err := validators.PathUUID(chi.URLParam(r, "notificationId"), "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.MarkPartnerRead(r.Context(), kitchen, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

// MarkAllPartnerNotificationsRead clears the kitchen's unread badge.
func MarkAllPartnerNotificationsRead(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kitchen, err := requireKitchen(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.MarkAllPartnerRead(r.Context(), kitchen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}

// ListAgentNotifications returns the agent's notification feed.
func ListAgentNotifications(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := requireAgent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := notificationListParams(r, agent)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListAgent(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MarkAgentNotificationRead marks one agent notification as read.
func MarkAgentNotificationRead(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := requireAgent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		notificationID, err := validators.PathUUID(chi.URLParam(r, "notificationId"), "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.MarkAgentRead(r.Context(), agent, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

// MarkAllAgentNotificationsRead clears the agent's unread badge.
func MarkAllAgentNotificationsRead(svc notifsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := requireAgent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.MarkAllAgentRead(r.Context(), agent)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}

func notificationListParams(r *http.Request, ownerID uuid.UUID) (notifsvc.ListParams, error) {
	params := notifsvc.ListParams{
		OwnerID:    ownerID,
		Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		UnreadOnly: r.URL.Query().Get("unread") == "true",
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
