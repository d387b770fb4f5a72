package api

import (
	"errors"
	"io"
	"net/http"

	apperrors "trades-marketplace/internal/common/errors"
	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/services/payments"
)

const maxWebhookBytes = 1 << 20

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request) {
	var req payments.CreateIntentRequest
	if err := commonhttp.DecodeJSON(w, r, &req); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	intent, err := s.services.Payments.CreateIntent(r.Context(), principal(r), req)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, intent)
}

func (s *Server) confirmIntent(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Payments.Confirm(r.Context(), principal(r), pathVar(r, "id"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := s.services.Payments.GetEscrow(r.Context(), principal(r), pathVar(r, "jobId"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, escrow)
}

func (s *Server) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := s.services.Payments.Release(r.Context(), principal(r), pathVar(r, "jobId"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, escrow)
}

func (s *Server) refundEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := s.services.Payments.Refund(r.Context(), principal(r), pathVar(r, "jobId"))
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, escrow)
}

// paymentWebhook verifies against the raw body, so it must not go through DecodeJSON.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			commonhttp.WriteError(w, apperrors.NewValidationError("request body too large"))
			return
		}
		commonhttp.WriteError(w, apperrors.NewValidationError("unreadable request body"))
		return
	}

	if err := s.services.Payments.HandleWebhook(r.Context(), payload, r.Header.Get(payments.SignatureHeader)); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
