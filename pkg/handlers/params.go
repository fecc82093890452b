package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseOwnerID extracts and validates the owner ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: owner_id
func ParseOwnerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "owner_id", "invalid_owner_id", "Invalid owner ID format", logger)
}

// ParseSupplierID extracts and validates the supplier ID from the request path.
// Expects path parameter: supplier_id
func ParseSupplierID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "supplier_id", "invalid_supplier_id", "Invalid supplier ID format", logger)
}

// ParseOwnerAndSupplierIDs extracts and validates both owner and supplier IDs.
// Returns both UUIDs and true on success, or uuid.Nil values and false on error.
func ParseOwnerAndSupplierIDs(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := ParseOwnerID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	supplierID, ok := ParseSupplierID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}

	return ownerID, supplierID, true
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
