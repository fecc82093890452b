package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/models"
)

// DisclosureRepository provides data access for published supplier disclosures.
// Lookups use pre-normalized join keys; callers own the normalization rules.
type DisclosureRepository interface {
	// FindByDomainKey returns the latest disclosure for a normalized domain, or nil.
	FindByDomainKey(ctx context.Context, domainKey string) (*models.VerifiedDisclosure, error)
	// FindByNameKey returns the latest disclosure for a normalized name, or nil.
	FindByNameKey(ctx context.Context, nameKey string) (*models.VerifiedDisclosure, error)
	// Upsert stores a disclosure keyed by (nameKey, reporting year).
	Upsert(ctx context.Context, d *models.VerifiedDisclosure, nameKey, domainKey string) error
}

type disclosureRepository struct{}

// NewDisclosureRepository creates a new DisclosureRepository.
func NewDisclosureRepository() DisclosureRepository {
	return &disclosureRepository{}
}

var _ DisclosureRepository = (*disclosureRepository)(nil)

const disclosureColumns = `
	id, name, domain, reporting_year, scope1_total, scope2_market_total,
	scope2_location_total, scope3_total, revenue, revenue_currency, mass_unit,
	assurance_level, source_url, ingested_at`

func (r *disclosureRepository) FindByDomainKey(ctx context.Context, domainKey string) (*models.VerifiedDisclosure, error) {
	if domainKey == "" {
		return nil, nil
	}
	return r.findLatest(ctx, "domain_key", domainKey)
}

func (r *disclosureRepository) FindByNameKey(ctx context.Context, nameKey string) (*models.VerifiedDisclosure, error) {
	if nameKey == "" {
		return nil, nil
	}
	return r.findLatest(ctx, "name_key", nameKey)
}

func (r *disclosureRepository) findLatest(ctx context.Context, column, key string) (*models.VerifiedDisclosure, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	// column is one of two fixed identifiers chosen above, never caller input.
	query := `SELECT ` + disclosureColumns + `
		FROM scope_supplier_disclosures
		WHERE ` + column + ` = $1
		ORDER BY reporting_year DESC, ingested_at DESC
		LIMIT 1`

	var d models.VerifiedDisclosure
	var domain, assurance, sourceURL *string
	err := scope.Conn.QueryRow(ctx, query, key).Scan(
		&d.ID,
		&d.Name,
		&domain,
		&d.ReportingYear,
		&d.Scope1,
		&d.Scope2Market,
		&d.Scope2Location,
		&d.Scope3,
		&d.Revenue,
		&d.RevenueCurrency,
		&d.MassUnit,
		&assurance,
		&sourceURL,
		&d.IngestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get disclosure: %w", err)
	}

	d.Domain = stringValue(domain)
	d.AssuranceLevel = stringValue(assurance)
	d.SourceURL = stringValue(sourceURL)
	return &d, nil
}

func (r *disclosureRepository) Upsert(ctx context.Context, d *models.VerifiedDisclosure, nameKey, domainKey string) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	massUnit := d.MassUnit
	if massUnit == "" {
		massUnit = "t"
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO scope_supplier_disclosures (
			name, name_key, domain, domain_key, reporting_year,
			scope1_total, scope2_market_total, scope2_location_total, scope3_total,
			revenue, revenue_currency, mass_unit, assurance_level, source_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (name_key, reporting_year) DO UPDATE SET
			name = EXCLUDED.name,
			domain = EXCLUDED.domain,
			domain_key = EXCLUDED.domain_key,
			scope1_total = EXCLUDED.scope1_total,
			scope2_market_total = EXCLUDED.scope2_market_total,
			scope2_location_total = EXCLUDED.scope2_location_total,
			scope3_total = EXCLUDED.scope3_total,
			revenue = EXCLUDED.revenue,
			revenue_currency = EXCLUDED.revenue_currency,
			mass_unit = EXCLUDED.mass_unit,
			assurance_level = EXCLUDED.assurance_level,
			source_url = EXCLUDED.source_url,
			ingested_at = NOW()
		RETURNING id, ingested_at`,
		d.Name,
		nameKey,
		nullString(d.Domain),
		nullString(domainKey),
		d.ReportingYear,
		d.Scope1,
		d.Scope2Market,
		d.Scope2Location,
		d.Scope3,
		d.Revenue,
		d.Currency(),
		massUnit,
		nullString(d.AssuranceLevel),
		nullString(d.SourceURL),
	).Scan(&d.ID, &d.IngestedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert disclosure: %w", err)
	}
	return nil
}
