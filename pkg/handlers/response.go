package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/nlu"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteNLUError maps structured NLU error kinds onto HTTP statuses: exhausted
// budgets are 429, overlapping syncs 409, bad provider configuration 400.
// Anything else is logged and reported as an opaque 500.
func WriteNLUError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case nlu.IsKind(err, nlu.KindRateLimit):
		_ = ErrorResponse(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case nlu.IsKind(err, nlu.KindSyncInProgress):
		_ = ErrorResponse(w, http.StatusConflict, "sync_in_progress", err.Error())
	case nlu.IsKind(err, nlu.KindConfiguration):
		_ = ErrorResponse(w, http.StatusBadRequest, "misconfigured", err.Error())
	default:
		logger.Error("NLU request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}
