package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgauth "github.com/nikhilbhatia/feastly-backend/pkg/auth"
	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
)

var testJWT = config.JWTConfig{
	Secret:            "test-secret",
	Issuer:            "feastly",
	ExpirationMinutes: 60,
}

func mintToken(t *testing.T, payload pkgauth.AccessTokenPayload) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(testJWT, time.Now().UTC(), payload)
	require.NoError(t, err)
	return token
}

func TestAuthSeedsPrincipal(t *testing.T) {
	kitchenID := uuid.New()
	token := mintToken(t, pkgauth.AccessTokenPayload{
		UserID:    kitchenID,
		Role:      enums.ActorRolePartner,
		KitchenID: &kitchenID,
	})

	var seen bool
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, enums.ActorRolePartner, principal.Role)
		require.NotNil(t, principal.KitchenID)
		assert.Equal(t, kitchenID, *principal.KitchenID)
		seen = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.True(t, seen)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	token := mintToken(t, pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleCustomer,
	})

	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	r := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoleBlocksOtherRoles(t *testing.T) {
	token := mintToken(t, pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.ActorRoleCustomer,
	})

	handler := Auth(testJWT, nil)(
		RequireRole(nil, enums.ActorRolePartner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})),
	)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleAllowsListedRole(t *testing.T) {
	agentID := uuid.New()
	token := mintToken(t, pkgauth.AccessTokenPayload{
		UserID:  agentID,
		Role:    enums.ActorRoleDeliveryAgent,
		AgentID: &agentID,
	})

	var seen bool
	handler := Auth(testJWT, nil)(
		RequireRole(nil, enums.ActorRoleDeliveryAgent)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
		})),
	)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.True(t, seen)
}
