package services

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// ============================================================================
// Mock Implementations shared by service tests
// ============================================================================

type mockSupplierRepo struct {
	mu        sync.Mutex
	suppliers map[uuid.UUID]*models.Supplier
	setErrFor map[uuid.UUID]error
	getErr    error
}

func newMockSupplierRepo(suppliers ...*models.Supplier) *mockSupplierRepo {
	m := &mockSupplierRepo{
		suppliers: make(map[uuid.UUID]*models.Supplier),
		setErrFor: make(map[uuid.UUID]error),
	}
	for _, s := range suppliers {
		m.suppliers[s.ID] = s
	}
	return m
}

// unlockedLookup reads the graph while the caller already holds mu.
type unlockedLookup struct {
	m       *mockSupplierRepo
	ownerID uuid.UUID
}

func (l unlockedLookup) ParentOf(_ context.Context, id uuid.UUID) (*uuid.UUID, bool, error) {
	s, ok := l.m.suppliers[id]
	if !ok || s.OwnerID != l.ownerID {
		return nil, false, nil
	}
	return s.ParentID, true, nil
}

func (m *mockSupplierRepo) Create(ctx context.Context, supplier *models.Supplier, check repositories.HierarchyCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if check != nil {
		if err := check(ctx, unlockedLookup{m: m, ownerID: supplier.OwnerID}); err != nil {
			return err
		}
	}
	supplier.CreatedAt = time.Now()
	supplier.UpdatedAt = supplier.CreatedAt
	m.suppliers[supplier.ID] = supplier
	return nil
}

func (m *mockSupplierRepo) GetByID(_ context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.suppliers[supplierID]
	if !ok || s.OwnerID != ownerID {
		return nil, nil
	}
	return s, nil
}

func (m *mockSupplierRepo) ListWithIndustry(_ context.Context, ownerID uuid.UUID) ([]*models.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Supplier
	for _, s := range m.suppliers {
		if s.OwnerID == ownerID && s.HasIndustryLabel() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockSupplierRepo) ListLinks(_ context.Context, ownerID uuid.UUID) ([]models.SupplierLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []models.SupplierLink
	for _, s := range m.suppliers {
		if s.OwnerID == ownerID {
			links = append(links, models.SupplierLink{ID: s.ID, ParentID: s.ParentID})
		}
	}
	return links, nil
}

func (m *mockSupplierRepo) Reparent(ctx context.Context, ownerID, supplierID uuid.UUID, parentID *uuid.UUID, check repositories.HierarchyCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suppliers[supplierID]
	if !ok || s.OwnerID != ownerID {
		return apperrors.ErrNotFound
	}
	if check != nil {
		if err := check(ctx, unlockedLookup{m: m, ownerID: ownerID}); err != nil {
			return err
		}
	}
	s.ParentID = parentID
	return nil
}

func (m *mockSupplierRepo) SetResolvedFactor(_ context.Context, ownerID, supplierID, factorID uuid.UUID, lockedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setErrFor[supplierID]; err != nil {
		return err
	}
	s, ok := m.suppliers[supplierID]
	if !ok || s.OwnerID != ownerID {
		return apperrors.ErrNotFound
	}
	id := factorID
	at := lockedAt
	s.ResolvedFactorID = &id
	s.FactorLockedAt = &at
	return nil
}

func (m *mockSupplierRepo) parentOf(id uuid.UUID) *uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppliers[id].ParentID
}

type mockFactorRepo struct {
	mu          sync.Mutex
	factors     []*models.EmissionFactor
	insertCount int
	listErr     error
}

func newMockFactorRepo(factors ...*models.EmissionFactor) *mockFactorRepo {
	return &mockFactorRepo{factors: factors}
}

func visibleTo(f *models.EmissionFactor, ownerID uuid.UUID) bool {
	return f.OwnerID == nil || *f.OwnerID == ownerID
}

func (m *mockFactorRepo) GetByID(_ context.Context, ownerID, factorID uuid.UUID) (*models.EmissionFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factors {
		if f.ID == factorID && visibleTo(f, ownerID) {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFactorRepo) ListVisibleNames(_ context.Context, ownerID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var names []string
	for _, f := range m.factors {
		if visibleTo(f, ownerID) {
			names = append(names, f.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (m *mockFactorRepo) GetPreferredByName(_ context.Context, ownerID uuid.UUID, name string) (*models.EmissionFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.EmissionFactor
	for _, f := range m.factors {
		if f.Name != name || !visibleTo(f, ownerID) {
			continue
		}
		if best == nil || preferFactor(f, best) {
			best = f
		}
	}
	return best, nil
}

// preferFactor mirrors the repository ordering: year, then private, then newest.
func preferFactor(a, b *models.EmissionFactor) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	if a.IsGlobal() != b.IsGlobal() {
		return !a.IsGlobal()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (m *mockFactorRepo) FindByNameYear(_ context.Context, ownerID uuid.UUID, name string, year int) (*models.EmissionFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factors {
		if f.Name == name && f.Year == year && visibleTo(f, ownerID) {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFactorRepo) CreateVerified(_ context.Context, factor *models.EmissionFactor) (*models.EmissionFactor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factors {
		if f.Provider == models.ProviderVerifiedDisclosure && f.Name == factor.Name && f.Year == factor.Year {
			return f, false, nil
		}
	}
	stored := *factor
	stored.ID = uuid.New()
	stored.Provider = models.ProviderVerifiedDisclosure
	stored.CreatedAt = time.Now()
	m.factors = append(m.factors, &stored)
	m.insertCount++
	return &stored, true, nil
}

func (m *mockFactorRepo) ListVisible(_ context.Context, ownerID uuid.UUID) ([]*models.EmissionFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.EmissionFactor
	for _, f := range m.factors {
		if visibleTo(f, ownerID) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Year > out[j].Year
	})
	return out, nil
}

func (m *mockFactorRepo) CreatePrivate(_ context.Context, factor *models.EmissionFactor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if factor.ID == uuid.Nil {
		factor.ID = uuid.New()
	}
	factor.CreatedAt = time.Now()
	m.factors = append(m.factors, factor)
	m.insertCount++
	return nil
}

type mockSpendRepo struct {
	mu         sync.Mutex
	records    map[uuid.UUID]*models.SpendRecord
	settleErrs []error
	settleHook func()
	settleCall int
}

func newMockSpendRepo(records ...*models.SpendRecord) *mockSpendRepo {
	m := &mockSpendRepo{records: make(map[uuid.UUID]*models.SpendRecord)}
	for i, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)
		}
		m.records[r.ID] = r
	}
	return m
}

func (m *mockSpendRepo) Create(_ context.Context, record *models.SpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now()
	m.records[record.ID] = record
	return nil
}

func (m *mockSpendRepo) ListPending(_ context.Context, ownerID uuid.UUID) ([]*models.SpendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SpendRecord
	for _, r := range m.records {
		if r.OwnerID == ownerID && !r.IsSettled() {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockSpendRepo) SettleBatch(_ context.Context, ownerID uuid.UUID, settlements []models.Settlement) (*repositories.SettleResult, error) {
	if m.settleHook != nil {
		m.settleHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCall++
	if len(m.settleErrs) > 0 {
		err := m.settleErrs[0]
		m.settleErrs = m.settleErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	result := &repositories.SettleResult{}
	for _, s := range settlements {
		r, ok := m.records[s.RecordID]
		if !ok || r.OwnerID != ownerID || r.IsSettled() {
			result.ConflictIDs = append(result.ConflictIDs, s.RecordID)
			continue
		}
		factorID := s.FactorUsedID
		at := s.CalculatedAt
		r.CalculatedCO2e = decimal.NewNullDecimal(s.CO2e)
		r.Scope1CO2e, r.Scope2CO2e, r.Scope3CO2e = s.ScopeCO2e[0], s.ScopeCO2e[1], s.ScopeCO2e[2]
		r.FactorUsedID = &factorID
		r.CalculatedAt = &at
		r.CalculationMethod = s.Method
		result.Updated++
	}
	return result, nil
}

func (m *mockSpendRepo) SumBySuppliers(_ context.Context, ownerID uuid.UUID, supplierIDs []uuid.UUID) (*models.EmissionTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := &models.EmissionTotals{}
	for _, r := range m.records {
		if r.OwnerID != ownerID || !slices.Contains(supplierIDs, r.SupplierID) {
			continue
		}
		totals.TotalSpend = totals.TotalSpend.Add(r.SpendAmount.Decimal)
		totals.TotalEmissions = totals.TotalEmissions.Add(r.CalculatedCO2e.Decimal)
		for i, v := range []decimal.NullDecimal{r.Scope1CO2e, r.Scope2CO2e, r.Scope3CO2e} {
			totals.ScopeEmissions[i] = totals.ScopeEmissions[i].Add(v.Decimal)
		}
		if r.IsSettled() {
			totals.SettledRecords++
		} else {
			totals.PendingRecords++
		}
	}
	return totals, nil
}

func (m *mockSpendRepo) record(id uuid.UUID) *models.SpendRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

type mockMappingRepo struct {
	mappings []*models.CategoryFactorMapping
}

func (m *mockMappingRepo) GetAuthoritative(_ context.Context, ownerID uuid.UUID, categoryCode string) (*models.CategoryFactorMapping, error) {
	var best *models.CategoryFactorMapping
	for _, mp := range m.mappings {
		if !mp.IsActive || mp.CategoryCode != categoryCode {
			continue
		}
		if mp.OwnerID != nil && *mp.OwnerID != ownerID {
			continue
		}
		if best == nil || mp.CreatedAt.After(best.CreatedAt) {
			best = mp
		}
	}
	return best, nil
}

func (m *mockMappingRepo) Create(_ context.Context, mapping *models.CategoryFactorMapping) error {
	m.mappings = append(m.mappings, mapping)
	return nil
}

type mockCategoryRepo struct {
	categories []*models.Category
}

func newMockCategoryRepo(codes ...string) *mockCategoryRepo {
	m := &mockCategoryRepo{}
	for _, code := range codes {
		m.categories = append(m.categories, &models.Category{Code: code, Name: code})
	}
	return m
}

func (m *mockCategoryRepo) List(_ context.Context) ([]*models.Category, error) {
	return m.categories, nil
}

func (m *mockCategoryRepo) GetByCode(_ context.Context, code string) (*models.Category, error) {
	for _, c := range m.categories {
		if c.Code == code {
			return c, nil
		}
	}
	return nil, nil
}

type mockDisclosureSource struct {
	mu       sync.Mutex
	byDomain map[string]*models.VerifiedDisclosure
	byName   map[string]*models.VerifiedDisclosure
	calls    []string
}

func newMockDisclosureSource() *mockDisclosureSource {
	return &mockDisclosureSource{
		byDomain: make(map[string]*models.VerifiedDisclosure),
		byName:   make(map[string]*models.VerifiedDisclosure),
	}
}

func (m *mockDisclosureSource) add(d *models.VerifiedDisclosure) {
	if key := NormalizeDomain(d.Domain); key != "" {
		m.byDomain[key] = d
	}
	m.byName[NormalizeCompanyName(d.Name)] = d
}

func (m *mockDisclosureSource) LookupByDomain(_ context.Context, domainKey string) (*models.VerifiedDisclosure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "domain:"+domainKey)
	return m.byDomain[domainKey], nil
}

func (m *mockDisclosureSource) LookupByName(_ context.Context, nameKey string) (*models.VerifiedDisclosure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "name:"+nameKey)
	return m.byName[nameKey], nil
}

// ============================================================================
// Fixtures
// ============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(dec(s))
}

func globalFactor(name, unit, intensity string, year int) *models.EmissionFactor {
	return &models.EmissionFactor{
		ID:        uuid.New(),
		Provider:  models.ProviderDitchCarbon,
		Name:      name,
		Geography: models.GlobalGeography,
		Year:      year,
		Unit:      unit,
		Intensity: dec(intensity),
		Version:   "test",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func noopOwnerContext(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}
