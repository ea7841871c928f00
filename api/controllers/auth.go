package controllers

import (
	"net/http"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/api/validators"
	authsvc "github.com/nikhilbhatia/feastly-backend/internal/auth"
	"github.com/nikhilbhatia/feastly-backend/pkg/enums"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

type registerRequest struct {
	FullName     string `json:"full_name" validate:"required,min=2"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required,min=8"`
	Password     string `json:"password" validate:"required,min=8"`
	ReferralCode string `json:"referral_code"`
}

// Register creates a customer account and signs it in.
func Register(svc authsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload registerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Register(r.Context(), authsvc.RegisterInput{
			FullName:     payload.FullName,
			Email:        payload.Email,
			Phone:        payload.Phone,
			Password:     payload.Password,
			ReferralCode: payload.ReferralCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

type loginRequest struct {
	Role     string `json:"role" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login signs in the account matching the role.
func Login(svc authsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload loginRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		role, err := enums.ParseActorRole(payload.Role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role"))
			return
		}

		session, err := svc.Login(r.Context(), authsvc.LoginInput{
			Role:     role,
			Email:    payload.Email,
			Password: payload.Password,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, session)
	}
}
