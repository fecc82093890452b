package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/logging"
)

// writeServiceError maps a service error onto a status code and error code.
// Unrecognized errors become 500 with fallbackCode and a sanitized message.
func writeServiceError(w http.ResponseWriter, err error, fallbackCode string, logger *zap.Logger) {
	status, code, message := http.StatusInternalServerError, fallbackCode, logging.SanitizeError(err)

	switch {
	case errors.Is(err, apperrors.ErrCycleDetected):
		status, code, message = http.StatusBadRequest, "cycle_detected", apperrors.ErrCycleDetected.Error()
	case errors.Is(err, apperrors.ErrSelfParent):
		status, code, message = http.StatusBadRequest, "self_parent", apperrors.ErrSelfParent.Error()
	case errors.Is(err, apperrors.ErrParentNotFound):
		status, code, message = http.StatusBadRequest, "parent_not_found", apperrors.ErrParentNotFound.Error()
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, "invalid_input", err.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "supplier_not_found", "Supplier not found"
	case errors.Is(err, apperrors.ErrConflict):
		status, code, message = http.StatusConflict, "calculation_in_progress", "A calculation pass is already running for this owner"
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("error_code", code), zap.String("error", message))
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
