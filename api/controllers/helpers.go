package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/api/middleware"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

// requirePrincipal pulls the authenticated actor from the request.
// Routes behind the auth middleware always have one; the error path
// covers misconfigured wiring.
func requirePrincipal(r *http.Request) (realtime.Principal, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return realtime.Principal{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return principal, nil
}

// requireKitchen returns the kitchen id claimed by a partner token.
func requireKitchen(r *http.Request) (uuid.UUID, error) {
	principal, err := requirePrincipal(r)
	if err != nil {
		return uuid.Nil, err
	}
	if principal.KitchenID == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "kitchen context missing")
	}
	return *principal.KitchenID, nil
}

// requireAgent returns the agent id claimed by a delivery token.
func requireAgent(r *http.Request) (uuid.UUID, error) {
	principal, err := requirePrincipal(r)
	if err != nil {
		return uuid.Nil, err
	}
	if principal.AgentID == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "agent context missing")
	}
	return *principal.AgentID, nil
}
