package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type apiError struct {
	status  int
	code    string
	message string
	// expose sends the error text to the client
	expose bool
}

var errorTable = []struct {
	target error
	apiError
}{
	{domain.ErrValidation, apiError{http.StatusBadRequest, "VALIDATION_ERROR", "", true}},
	{domain.ErrUnauthorized, apiError{http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", false}},
	{domain.ErrNotFound, apiError{http.StatusNotFound, "NOT_FOUND", "not found", false}},
	{domain.ErrProviderNotConfigured, apiError{http.StatusServiceUnavailable, "PROVIDER_NOT_CONFIGURED", "Online payment is not available for this method yet. Please choose another method or pay on site.", false}},
	{domain.ErrPaymentDeclined, apiError{http.StatusPaymentRequired, "PAYMENT_DECLINED", "The payment was declined by the provider.", false}},
	{domain.ErrProviderUnavailable, apiError{http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", "The payment provider is unreachable. Please try again in a moment.", false}},
	{domain.ErrTableUnavailable, apiError{http.StatusConflict, "TABLE_UNAVAILABLE", "", true}},
	{domain.ErrInvalidTransition, apiError{http.StatusConflict, "INVALID_TRANSITION", "", true}},
	{domain.ErrConflict, apiError{http.StatusConflict, "CONFLICT", "", true}},
	{domain.ErrSerializationFailure, apiError{http.StatusConflict, "CONFLICT", "concurrent update, try again", false}},
	{domain.ErrStoreUnavailable, apiError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service temporarily unavailable. Please try again.", false}},
}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			out := e.apiError
			if out.expose {
				out.message = err.Error()
			}
			return out
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apiError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service temporarily unavailable. Please try again.", false}
	}
	return apiError{http.StatusInternalServerError, "INTERNAL", "internal error", false}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	log := observability.FromContext(r.Context(), h.logger).WithError(err).WithField("code", e.code)
	switch {
	case e.status >= 500:
		log.Error("request failed")
	case e.status == http.StatusUnauthorized:
		log.Warn("unauthorized request")
	default:
		log.Debug("request rejected")
	}
	writeJSON(w, e.status, errorBody{Success: false, Error: e.message, Code: e.code})
}
