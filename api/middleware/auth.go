package middleware

import (
	"net/http"
	"strings"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/internal/realtime"
	pkgauth "github.com/nikhilbhatia/feastly-backend/pkg/auth"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the
// authenticated principal.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			principal := realtime.Principal{
				UserID:    claims.UserID,
				Role:      claims.Role,
				KitchenID: claims.KitchenID,
				AgentID:   claims.AgentID,
			}

			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
				if claims.KitchenID != nil {
					ctx = logg.WithKitchenID(ctx, claims.KitchenID.String())
				}
				if claims.AgentID != nil {
					ctx = logg.WithAgentID(ctx, claims.AgentID.String())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken also accepts the token query parameter so browser
// WebSocket clients, which cannot set headers, can authenticate.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			return strings.TrimSpace(raw[7:])
		}
		return raw
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
