package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OwnerPathValue is the route wildcard carrying the owning account ID.
const OwnerPathValue = "owner_id"

// WithOwnerContext creates middleware that sets up an owner-scoped DB connection.
// The owner ID comes from the {owner_id} route wildcard; authenticating the
// caller is the job of the surrounding gateway.
// The connection is automatically cleaned up after the handler returns.
func WithOwnerContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw := r.PathValue(OwnerPathValue)
			ownerID, err := uuid.Parse(raw)
			if err != nil {
				logger.Warn("Invalid owner ID in path",
					zap.String("owner_id", raw),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid_owner_id", "Invalid owner ID format")
				return
			}

			scope, err := db.WithOwner(r.Context(), ownerID)
			if err != nil {
				logger.Error("Failed to acquire owner connection",
					zap.String("owner_id", ownerID.String()),
					zap.Error(err))
				writeError(w, http.StatusInternalServerError, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			ctx := SetOwnerScope(r.Context(), scope)
			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
