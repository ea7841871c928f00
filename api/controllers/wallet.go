package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nikhilbhatia/feastly-backend/api/responses"
	"github.com/nikhilbhatia/feastly-backend/api/validators"
	walletsvc "github.com/nikhilbhatia/feastly-backend/internal/wallet"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
	"github.com/nikhilbhatia/feastly-backend/pkg/logger"
)

// WalletSummary returns the caller's balance and referral counters.
func WalletSummary(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.Summary(r.Context(), principal.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type topupRequest struct {
	AmountPaise int64 `json:"amount_paise" validate:"required,gt=0"`
}

// WalletTopup starts an online top-up and returns the gateway handle.
func WalletTopup(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload topupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.Topup(r.Context(), walletsvc.TopupInput{
			UserID:      principal.UserID,
			AmountPaise: payload.AmountPaise,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, intent)
	}
}

type confirmTopupRequest struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required"`
	PaymentID      string `json:"payment_id" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
	AmountPaise    int64  `json:"amount_paise" validate:"required,gt=0"`
}

// WalletConfirmTopup verifies the gateway proof and credits the wallet.
func WalletConfirmTopup(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmTopupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.ConfirmTopup(r.Context(), walletsvc.ConfirmTopupInput{
			UserID:         principal.UserID,
			GatewayOrderID: payload.GatewayOrderID,
			PaymentID:      payload.PaymentID,
			Signature:      payload.Signature,
			AmountPaise:    payload.AmountPaise,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

// WalletTransactions returns the caller's ledger history.
func WalletTransactions(svc walletsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requirePrincipal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := walletsvc.ListParams{
			UserID: principal.UserID,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be numeric"))
				return
			}
			params.Limit = limit
		}

		result, err := svc.Transactions(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
