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

// EmissionFactorRepository provides read access to emission factors visible to
// an owner (global factors plus the owner's private ones) and idempotent
// creation of verified disclosure factors.
type EmissionFactorRepository interface {
	// GetByID returns a visible factor, or nil when it does not exist.
	GetByID(ctx context.Context, ownerID, factorID uuid.UUID) (*models.EmissionFactor, error)
	// ListVisibleNames returns the distinct factor names visible to the owner in name order.
	ListVisibleNames(ctx context.Context, ownerID uuid.UUID) ([]string, error)
	// GetPreferredByName picks one factor among the visible rows sharing a name:
	// most recent year, then owner-private over global, then most recently created.
	GetPreferredByName(ctx context.Context, ownerID uuid.UUID, name string) (*models.EmissionFactor, error)
	// FindByNameYear returns a visible factor with the exact name and year,
	// preferring verified disclosure factors.
	FindByNameYear(ctx context.Context, ownerID uuid.UUID, name string, year int) (*models.EmissionFactor, error)
	// ListVisible returns every factor visible to the owner ordered by name, then newest year.
	ListVisible(ctx context.Context, ownerID uuid.UUID) ([]*models.EmissionFactor, error)
	// CreateVerified inserts a global verified factor unless one with the same
	// name and year already exists, and returns the stored row either way.
	CreateVerified(ctx context.Context, factor *models.EmissionFactor) (*models.EmissionFactor, bool, error)
	// CreatePrivate inserts a factor owned by factor.OwnerID.
	CreatePrivate(ctx context.Context, factor *models.EmissionFactor) error
}

type emissionFactorRepository struct{}

// NewEmissionFactorRepository creates a new EmissionFactorRepository.
func NewEmissionFactorRepository() EmissionFactorRepository {
	return &emissionFactorRepository{}
}

var _ EmissionFactorRepository = (*emissionFactorRepository)(nil)

const factorColumns = `
	id, owner_id, external_id, provider, name, geography, year, unit, intensity,
	scope1_intensity, scope2_intensity, scope3_intensity,
	source_url, methodology, version, created_at`

func (r *emissionFactorRepository) GetByID(ctx context.Context, ownerID, factorID uuid.UUID) (*models.EmissionFactor, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + factorColumns + `
		FROM scope_emission_factors
		WHERE id = $2 AND (owner_id IS NULL OR owner_id = $1)`

	return optionalFactor(scanFactor(scope.Conn.QueryRow(ctx, query, ownerID, factorID)))
}

func (r *emissionFactorRepository) ListVisibleNames(ctx context.Context, ownerID uuid.UUID) ([]string, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT DISTINCT name
		FROM scope_emission_factors
		WHERE owner_id IS NULL OR owner_id = $1
		ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query factor names: %w", err)
	}
	defer rows.Close()

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect factor names: %w", err)
	}
	return names, nil
}

func (r *emissionFactorRepository) ListVisible(ctx context.Context, ownerID uuid.UUID) ([]*models.EmissionFactor, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+factorColumns+`
		FROM scope_emission_factors
		WHERE owner_id IS NULL OR owner_id = $1
		ORDER BY name, year DESC, created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query emission factors: %w", err)
	}
	defer rows.Close()

	factors := make([]*models.EmissionFactor, 0)
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emission factors: %w", err)
	}
	return factors, nil
}

func (r *emissionFactorRepository) GetPreferredByName(ctx context.Context, ownerID uuid.UUID, name string) (*models.EmissionFactor, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + factorColumns + `
		FROM scope_emission_factors
		WHERE name = $2 AND (owner_id IS NULL OR owner_id = $1)
		ORDER BY year DESC, (owner_id IS NOT NULL) DESC, created_at DESC, id
		LIMIT 1`

	return optionalFactor(scanFactor(scope.Conn.QueryRow(ctx, query, ownerID, name)))
}

func (r *emissionFactorRepository) FindByNameYear(ctx context.Context, ownerID uuid.UUID, name string, year int) (*models.EmissionFactor, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + factorColumns + `
		FROM scope_emission_factors
		WHERE name = $2 AND year = $3 AND (owner_id IS NULL OR owner_id = $1)
		ORDER BY (provider = $4) DESC, created_at, id
		LIMIT 1`

	row := scope.Conn.QueryRow(ctx, query, ownerID, name, year, models.ProviderVerifiedDisclosure)
	return optionalFactor(scanFactor(row))
}

func (r *emissionFactorRepository) CreateVerified(ctx context.Context, factor *models.EmissionFactor) (*models.EmissionFactor, bool, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, false, fmt.Errorf("no owner scope in context")
	}

	if factor.ID == uuid.Nil {
		factor.ID = uuid.New()
	}

	insert := `
		INSERT INTO scope_emission_factors (
			id, owner_id, external_id, provider, name, geography, year, unit, intensity,
			scope1_intensity, scope2_intensity, scope3_intensity,
			source_url, methodology, version
		) VALUES ($1, NULL, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (name, year) WHERE provider = 'Verified Supplier Disclosure' DO NOTHING
		RETURNING ` + factorColumns

	created, err := scanFactor(scope.Conn.QueryRow(ctx, insert,
		factor.ID,
		nullString(factor.ExternalID),
		models.ProviderVerifiedDisclosure,
		factor.Name,
		factor.Geography,
		factor.Year,
		factor.Unit,
		factor.Intensity,
		factor.Scope1Intensity,
		factor.Scope2Intensity,
		factor.Scope3Intensity,
		nullString(factor.SourceURL),
		nullString(factor.Methodology),
		factor.Version,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create verified factor: %w", err)
	}

	// Another writer stored the same disclosure first.
	existing, err := scanFactor(scope.Conn.QueryRow(ctx, `SELECT `+factorColumns+`
		FROM scope_emission_factors
		WHERE provider = $1 AND name = $2 AND year = $3`,
		models.ProviderVerifiedDisclosure, factor.Name, factor.Year))
	if err != nil {
		return nil, false, fmt.Errorf("failed to re-read verified factor: %w", err)
	}
	return existing, false, nil
}

func (r *emissionFactorRepository) CreatePrivate(ctx context.Context, factor *models.EmissionFactor) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}
	if factor.OwnerID == nil {
		return fmt.Errorf("private factor requires an owner")
	}

	if factor.ID == uuid.Nil {
		factor.ID = uuid.New()
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO scope_emission_factors (
			id, owner_id, external_id, provider, name, geography, year, unit, intensity,
			scope1_intensity, scope2_intensity, scope3_intensity,
			source_url, methodology, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`,
		factor.ID,
		factor.OwnerID,
		nullString(factor.ExternalID),
		factor.Provider,
		factor.Name,
		factor.Geography,
		factor.Year,
		factor.Unit,
		factor.Intensity,
		factor.Scope1Intensity,
		factor.Scope2Intensity,
		factor.Scope3Intensity,
		nullString(factor.SourceURL),
		nullString(factor.Methodology),
		factor.Version,
	).Scan(&factor.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create emission factor: %w", err)
	}
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func optionalFactor(f *models.EmissionFactor, err error) (*models.EmissionFactor, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func scanFactor(row pgx.Row) (*models.EmissionFactor, error) {
	var f models.EmissionFactor
	var externalID, sourceURL, methodology *string

	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&externalID,
		&f.Provider,
		&f.Name,
		&f.Geography,
		&f.Year,
		&f.Unit,
		&f.Intensity,
		&f.Scope1Intensity,
		&f.Scope2Intensity,
		&f.Scope3Intensity,
		&sourceURL,
		&methodology,
		&f.Version,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan emission factor: %w", err)
	}

	f.ExternalID = stringValue(externalID)
	f.SourceURL = stringValue(sourceURL)
	f.Methodology = stringValue(methodology)
	return &f, nil
}
