package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"

	"genforge/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(w, status, ErrorBody{Code: code, Message: msg, Details: details})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	var ice *domain.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", ice.Error(), map[string]any{
			"required": ice.Required, "current": ice.Current, "shortage": ice.Shortage,
		})
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error(), map[string]any{"field": ve.Field})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, domain.ErrPricingUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "pricing_unavailable", err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, domain.ErrPipelineBusy):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "pipeline_busy", err.Error(), nil)
	case errors.Is(err, domain.ErrLedgerConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "ledger_conflict", "account is busy, retry", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
