package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/scopeops/scopeops-engine/pkg/models"
)

// mockHierarchyService implements services.HierarchyService for handler tests.
type mockHierarchyService struct {
	supplier  *models.Supplier
	createErr error
	setErr    error
	getErr    error

	created      *models.Supplier
	setParentArg *uuid.UUID
	setCalled    bool
}

func (m *mockHierarchyService) CreateSupplier(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) error {
	if m.createErr != nil {
		return m.createErr
	}
	supplier.ID = uuid.New()
	supplier.OwnerID = ownerID
	m.created = supplier
	return nil
}

func (m *mockHierarchyService) SetParent(ctx context.Context, ownerID, supplierID uuid.UUID, parentID *uuid.UUID) error {
	m.setCalled = true
	m.setParentArg = parentID
	return m.setErr
}

func (m *mockHierarchyService) GetSupplier(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.supplier, nil
}

// mockFactorResolver implements services.FactorResolver for handler tests.
type mockFactorResolver struct {
	supplier *models.Supplier
	factor   *models.EmissionFactor
	summary  *models.ResolutionSummary
	err      error
}

func (m *mockFactorResolver) Resolve(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error) {
	return m.factor, m.err
}

func (m *mockFactorResolver) ResolveByID(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, *models.EmissionFactor, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.supplier, m.factor, nil
}

func (m *mockFactorResolver) ResolveAll(ctx context.Context, ownerID uuid.UUID) (*models.ResolutionSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

// mockRollupService implements services.RollupService for handler tests.
type mockRollupService struct {
	result *models.RollupResult
	err    error
	rootID uuid.UUID
}

func (m *mockRollupService) Rollup(ctx context.Context, ownerID, rootID uuid.UUID) (*models.RollupResult, error) {
	m.rootID = rootID
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// mockEmissionCalculator implements services.EmissionCalculator for handler tests.
type mockEmissionCalculator struct {
	report  *models.CalculationReport
	err     error
	ownerID uuid.UUID
}

func (m *mockEmissionCalculator) CalculatePending(ctx context.Context, ownerID uuid.UUID) (*models.CalculationReport, error) {
	m.ownerID = ownerID
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

// mockCatalogService implements services.CatalogService for handler tests.
type mockCatalogService struct {
	categories []*models.Category
	factors    []*models.EmissionFactor
	err        error

	ownerID        uuid.UUID
	createdFactor  *models.EmissionFactor
	createdMapping *models.CategoryFactorMapping
	createdRecord  *models.SpendRecord
}

func (m *mockCatalogService) ListCategories(ctx context.Context) ([]*models.Category, error) {
	return m.categories, m.err
}

func (m *mockCatalogService) CreateEmissionFactor(ctx context.Context, ownerID uuid.UUID, factor *models.EmissionFactor) error {
	m.ownerID = ownerID
	if m.err != nil {
		return m.err
	}
	factor.ID = uuid.New()
	factor.OwnerID = &ownerID
	m.createdFactor = factor
	return nil
}

func (m *mockCatalogService) ListEmissionFactors(ctx context.Context, ownerID uuid.UUID) ([]*models.EmissionFactor, error) {
	m.ownerID = ownerID
	return m.factors, m.err
}

func (m *mockCatalogService) CreateCategoryMapping(ctx context.Context, ownerID uuid.UUID, mapping *models.CategoryFactorMapping) error {
	m.ownerID = ownerID
	if m.err != nil {
		return m.err
	}
	mapping.ID = uuid.New()
	m.createdMapping = mapping
	return nil
}

func (m *mockCatalogService) CreateSpendRecord(ctx context.Context, ownerID uuid.UUID, record *models.SpendRecord) error {
	m.ownerID = ownerID
	if m.err != nil {
		return m.err
	}
	record.ID = uuid.New()
	record.OwnerID = ownerID
	m.createdRecord = record
	return nil
}
