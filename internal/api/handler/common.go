package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/validation"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &domain.APIError{
		Code:    status,
		Message: message,
	})
}

// respondStandardError writes a JSON error response with a machine-readable code.
func respondStandardError(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, &domain.APIError{
		Code:      status,
		ErrorCode: code,
		Message:   message,
		Details:   details,
	})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var (
		verrs validation.ValidationErrors
		verr  *validation.ValidationError
		cerr  *domain.ConfigurationError
		perr  *domain.ProcessError
		serr  *domain.SpawnError
	)
	switch {
	case errors.As(err, &verrs):
		respondValidationErrors(w, verrs)
	case errors.As(err, &verr):
		respondValidationErrors(w, validation.ValidationErrors{verr})
	case errors.Is(err, domain.ErrNotFound):
		respondStandardError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, "not found", "")
	case errors.Is(err, domain.ErrAlreadyExists):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, "already exists", "")
	case errors.Is(err, domain.ErrInvalidInput):
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid input", err.Error())
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidAPIKey), errors.Is(err, domain.ErrBadSignature):
		respondStandardError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "unauthorized", "")
	case errors.Is(err, domain.ErrRunInProgress), errors.Is(err, domain.ErrMirrorNotReady):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeInvalidInput, err.Error(), "")
	case errors.Is(err, domain.ErrShuttingDown):
		respondStandardError(w, http.StatusServiceUnavailable, domain.ErrCodeUnavailable, err.Error(), "")
	case errors.As(err, &cerr):
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeConfiguration, "server is not configured", cerr.Error())
	case errors.As(err, &perr), errors.As(err, &serr):
		respondStandardError(w, http.StatusBadGateway, domain.ErrCodeProcessFailed, "external command failed", domain.ErrorDetail(err))
	default:
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error", "")
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// respondValidationErrors writes a JSON response for multiple validation errors.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"code":      http.StatusBadRequest,
		"errorCode": domain.ErrCodeValidationError,
		"errors":    errs,
	})
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}
