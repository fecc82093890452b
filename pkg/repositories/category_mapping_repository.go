package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/models"
)

// CategoryMappingRepository provides data access for category to factor mappings.
type CategoryMappingRepository interface {
	// GetAuthoritative returns the most recently created active mapping for the
	// category visible to the owner, or nil when none exists.
	GetAuthoritative(ctx context.Context, ownerID uuid.UUID, categoryCode string) (*models.CategoryFactorMapping, error)
	Create(ctx context.Context, mapping *models.CategoryFactorMapping) error
}

type categoryMappingRepository struct{}

// NewCategoryMappingRepository creates a new CategoryMappingRepository.
func NewCategoryMappingRepository() CategoryMappingRepository {
	return &categoryMappingRepository{}
}

var _ CategoryMappingRepository = (*categoryMappingRepository)(nil)

func (r *categoryMappingRepository) GetAuthoritative(ctx context.Context, ownerID uuid.UUID, categoryCode string) (*models.CategoryFactorMapping, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, category_code, emission_factor_id, confidence, rationale,
		       is_active, created_at
		FROM scope_category_factor_mappings
		WHERE category_code = $2 AND is_active
		  AND (owner_id IS NULL OR owner_id = $1)
		ORDER BY created_at DESC, id
		LIMIT 1`

	var m models.CategoryFactorMapping
	var confidence, rationale *string
	err := scope.Conn.QueryRow(ctx, query, ownerID, categoryCode).Scan(
		&m.ID,
		&m.OwnerID,
		&m.CategoryCode,
		&m.EmissionFactorID,
		&confidence,
		&rationale,
		&m.IsActive,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get category mapping: %w", err)
	}

	m.Confidence = stringValue(confidence)
	m.Rationale = stringValue(rationale)
	return &m, nil
}

func (r *categoryMappingRepository) Create(ctx context.Context, mapping *models.CategoryFactorMapping) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO scope_category_factor_mappings (
			id, owner_id, category_code, emission_factor_id, confidence, rationale, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		mapping.ID,
		mapping.OwnerID,
		mapping.CategoryCode,
		mapping.EmissionFactorID,
		nullString(mapping.Confidence),
		nullString(mapping.Rationale),
		mapping.IsActive,
	).Scan(&mapping.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create category mapping: %w", err)
	}
	return nil
}
