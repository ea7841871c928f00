package controllers

import (
	"net/http"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

// WS upgrades an authenticated request to a WebSocket session on the hub.
func WS(hub *realtime.Hub, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hub.ServeWS(w, r, principal)
	}
}
