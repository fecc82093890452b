package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/models"
)

// OwnerContext returns a context carrying a connection scoped to ownerID.
// The connection is released and the owner's rows are removed when the test finishes.
func (e *EngineDB) OwnerContext(t *testing.T, ownerID uuid.UUID) context.Context {
	t.Helper()

	scope, err := e.DB.WithOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("Failed to acquire owner scope: %v", err)
	}
	t.Cleanup(func() {
		scope.Close()
		e.CleanupOwner(t, ownerID)
	})

	return database.SetOwnerScope(context.Background(), scope)
}

// CleanupOwner deletes every row owned by ownerID.
func (e *EngineDB) CleanupOwner(t *testing.T, ownerID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []string{
		"DELETE FROM scope_spend_records WHERE owner_id = $1",
		"DELETE FROM scope_category_factor_mappings WHERE owner_id = $1",
		"UPDATE scope_suppliers SET parent_id = NULL WHERE owner_id = $1",
		"DELETE FROM scope_suppliers WHERE owner_id = $1",
		"DELETE FROM scope_emission_factors WHERE owner_id = $1",
	} {
		if _, err := e.DB.Pool.Exec(ctx, stmt, ownerID); err != nil {
			t.Logf("cleanup %q failed: %v", stmt, err)
		}
	}
}

// InsertFactor writes an emission factor directly, bypassing repositories.
// Global factors (nil OwnerID) are deleted when the test finishes.
func (e *EngineDB) InsertFactor(t *testing.T, f *models.EmissionFactor) *models.EmissionFactor {
	t.Helper()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Version == "" {
		f.Version = "test"
	}
	if f.Geography == "" {
		f.Geography = models.GlobalGeography
	}

	err := e.DB.Pool.QueryRow(context.Background(), `
		INSERT INTO scope_emission_factors (
			id, owner_id, provider, name, geography, year, unit, intensity,
			scope1_intensity, scope2_intensity, scope3_intensity, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		f.ID, f.OwnerID, f.Provider, f.Name, f.Geography, f.Year, f.Unit, f.Intensity,
		f.Scope1Intensity, f.Scope2Intensity, f.Scope3Intensity, f.Version,
	).Scan(&f.CreatedAt)
	if err != nil {
		t.Fatalf("Failed to insert factor: %v", err)
	}

	if f.OwnerID == nil {
		id := f.ID
		t.Cleanup(func() {
			_, _ = e.DB.Pool.Exec(context.Background(),
				"DELETE FROM scope_emission_factors WHERE id = $1", id)
		})
	}
	return f
}

// InsertSupplier writes a supplier directly, bypassing the hierarchy guard.
func (e *EngineDB) InsertSupplier(t *testing.T, s *models.Supplier) *models.Supplier {
	t.Helper()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	err := e.DB.Pool.QueryRow(context.Background(), `
		INSERT INTO scope_suppliers (
			id, owner_id, name, domain, industry_label, region, resolved_factor_id, parent_id
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING created_at, updated_at`,
		s.ID, s.OwnerID, s.Name, s.Domain, s.IndustryLabel, s.Region, s.ResolvedFactorID, s.ParentID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		t.Fatalf("Failed to insert supplier: %v", err)
	}
	return s
}

// InsertSpendRecord writes an unsettled spend record directly.
func (e *EngineDB) InsertSpendRecord(t *testing.T, r *models.SpendRecord) *models.SpendRecord {
	t.Helper()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	err := e.DB.Pool.QueryRow(context.Background(), `
		INSERT INTO scope_spend_records (
			id, owner_id, supplier_id, category_code, fiscal_year,
			spend_amount, currency, quantity, quantity_unit, material_type,
			manual_factor_id, calculated_co2e
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12)
		RETURNING created_at`,
		r.ID, r.OwnerID, r.SupplierID, r.CategoryCode, r.FiscalYear,
		r.SpendAmount, r.Currency, r.Quantity, r.QuantityUnit, r.MaterialType,
		r.ManualFactorID, r.CalculatedCO2e,
	).Scan(&r.CreatedAt)
	if err != nil {
		t.Fatalf("Failed to insert spend record: %v", err)
	}
	return r
}

// Dec parses a decimal literal, failing the test on malformed input.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}
