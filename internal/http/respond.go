package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"moneta/internal/core"
	"moneta/internal/fx"
	"moneta/internal/log"
	"moneta/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeLedgerError maps engine errors onto HTTP statuses: unknown IDs are
// 404, a missing conversion rate is 422, validation failures are 400 and
// everything else is a 500.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var noRate *fx.NoRateError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &noRate):
		writeError(w, http.StatusUnprocessableEntity, noRate.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger := log.FromContext(r.Context())
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		core.ErrNotANumber,
		core.ErrZeroAmount,
		core.ErrInvalidRate,
		core.ErrInvalidCurrency,
		core.ErrInvalidType,
		core.ErrMissingCategory,
		core.ErrCategoryMismatch,
		core.ErrSignMismatch,
		core.ErrEmptyName,
		core.ErrZeroDate,
		core.ErrLongDescription,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
