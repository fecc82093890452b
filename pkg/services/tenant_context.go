package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/scopeops/scopeops-engine/pkg/database"
)

// OwnerContextFunc acquires an owner-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
// Batch workers use it so each goroutine holds its own connection.
type OwnerContextFunc func(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error)

// NewOwnerContextFunc creates an OwnerContextFunc that uses the given database.
func NewOwnerContextFunc(db *database.DB) OwnerContextFunc {
	return func(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
		scope, err := db.WithOwner(ctx, ownerID)
		if err != nil {
			return nil, nil, err
		}
		return database.SetOwnerScope(ctx, scope), func() { scope.Close() }, nil
	}
}
