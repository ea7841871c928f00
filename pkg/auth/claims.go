package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
// Exactly one of KitchenID/AgentID is set for partner and delivery
// tokens; customers carry neither.
type AccessTokenPayload struct {
	UserID    uuid.UUID
	Role      enums.ActorRole
	KitchenID *uuid.UUID
	AgentID   *uuid.UUID
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID    uuid.UUID       `json:"user_id"`
	Role      enums.ActorRole `json:"role"`
	KitchenID *uuid.UUID      `json:"kitchen_id,omitempty"`
	AgentID   *uuid.UUID      `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}
