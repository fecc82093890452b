package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/retry"
)

type stubRunLock struct {
	held     bool
	err      error
	keys     []string
	released int
}

func (l *stubRunLock) TryAcquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

var calcNow = time.Date(2024, 3, 15, 9, 30, 0, 123456789, time.FixedZone("CET", 3600))

type calcFixture struct {
	ownerID   uuid.UUID
	suppliers *mockSupplierRepo
	factors   *mockFactorRepo
	spend     *mockSpendRepo
	mappings  *mockMappingRepo
	lock      *stubRunLock
}

func newCalcFixture() *calcFixture {
	return &calcFixture{
		ownerID:   uuid.New(),
		suppliers: newMockSupplierRepo(),
		factors:   newMockFactorRepo(),
		spend:     newMockSpendRepo(),
		mappings:  &mockMappingRepo{},
		lock:      &stubRunLock{},
	}
}

func (f *calcFixture) calculator() *emissionCalculator {
	calc := NewEmissionCalculator(f.spend, f.suppliers, f.factors, f.mappings, f.lock, CalculatorConfig{
		Retry: &retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}, zap.NewNop()).(*emissionCalculator)
	calc.now = func() time.Time { return calcNow }
	return calc
}

func (f *calcFixture) factor(unit, intensity string) *models.EmissionFactor {
	factor := globalFactor("Factor "+unit+" "+intensity, unit, intensity, 2023)
	f.factors.factors = append(f.factors.factors, factor)
	return factor
}

func (f *calcFixture) supplier(lockedFactor *uuid.UUID) *models.Supplier {
	s := &models.Supplier{ID: uuid.New(), OwnerID: f.ownerID, Name: "Supplier", ResolvedFactorID: lockedFactor}
	f.suppliers.suppliers[s.ID] = s
	return s
}

func (f *calcFixture) record(supplierID uuid.UUID, mutate func(r *models.SpendRecord)) *models.SpendRecord {
	r := &models.SpendRecord{
		ID:         uuid.New(),
		OwnerID:    f.ownerID,
		SupplierID: supplierID,
		FiscalYear: 2023,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, len(f.spend.records), 0, time.UTC),
	}
	if mutate != nil {
		mutate(r)
	}
	f.spend.records[r.ID] = r
	return r
}

func spend(amount, currency string) func(r *models.SpendRecord) {
	return func(r *models.SpendRecord) {
		r.SpendAmount = nullDec(amount)
		r.Currency = currency
	}
}

func TestCalculatePending_SupplierLockedFactor(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	supplier := f.supplier(&factor.ID)
	record := f.record(supplier.ID, spend("1000.00", "USD"))

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Considered)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Conflicts)
	assert.Zero(t, report.TotalSkipped())
	assert.Equal(t, map[models.CalculationMethod]int{models.MethodSupplierLocked: 1}, report.ByMethod)

	stored := f.spend.record(record.ID)
	assert.True(t, stored.CalculatedCO2e.Decimal.Equal(dec("500")), "got %s", stored.CalculatedCO2e.Decimal)
	assert.Equal(t, "500", stored.CalculatedCO2e.Decimal.String())
	assert.Equal(t, factor.ID, *stored.FactorUsedID)
	assert.Equal(t, models.MethodSupplierLocked, stored.CalculationMethod)
	assert.Equal(t, calcNow.UTC().Truncate(time.Microsecond), *stored.CalculatedAt)
	assert.False(t, stored.Scope1CO2e.Valid, "factor without scope breakdown leaves scopes empty")
}

func TestCalculatePending_FactorPriority(t *testing.T) {
	f := newCalcFixture()
	locked := f.factor("USD", "0.5")
	manual := f.factor("USD", "0.2")
	category := f.factor("USD", "0.1")
	f.mappings.mappings = append(f.mappings.mappings, &models.CategoryFactorMapping{
		ID: uuid.New(), CategoryCode: "IT_SERV", EmissionFactorID: category.ID, IsActive: true,
	})

	withLock := f.supplier(&locked.ID)
	withoutLock := f.supplier(nil)
	dangling := f.supplier(ptr(uuid.New()))

	all := func(r *models.SpendRecord) {
		spend("100", "USD")(r)
		r.ManualFactorID = &manual.ID
		r.CategoryCode = "IT_SERV"
	}
	lockedRec := f.record(withLock.ID, all)
	manualRec := f.record(withoutLock.ID, all)
	danglingRec := f.record(dangling.ID, all)
	categoryRec := f.record(withoutLock.ID, func(r *models.SpendRecord) {
		spend("100", "USD")(r)
		r.CategoryCode = "IT_SERV"
	})
	missingManualRec := f.record(withoutLock.ID, func(r *models.SpendRecord) {
		spend("100", "USD")(r)
		r.ManualFactorID = ptr(uuid.New())
		r.CategoryCode = "IT_SERV"
	})

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Updated)
	assert.Equal(t, map[models.CalculationMethod]int{
		models.MethodSupplierLocked:  1,
		models.MethodManualOverride:  2,
		models.MethodCategoryAverage: 2,
	}, report.ByMethod)

	expect := []struct {
		record *models.SpendRecord
		factor *models.EmissionFactor
		method models.CalculationMethod
		co2e   string
	}{
		{lockedRec, locked, models.MethodSupplierLocked, "50"},
		{manualRec, manual, models.MethodManualOverride, "20"},
		{danglingRec, manual, models.MethodManualOverride, "20"},
		{categoryRec, category, models.MethodCategoryAverage, "10"},
		{missingManualRec, category, models.MethodCategoryAverage, "10"},
	}
	for _, e := range expect {
		stored := f.spend.record(e.record.ID)
		assert.Equal(t, e.factor.ID, *stored.FactorUsedID)
		assert.Equal(t, e.method, stored.CalculationMethod)
		assert.True(t, stored.CalculatedCO2e.Decimal.Equal(dec(e.co2e)))
	}
}

func TestCalculatePending_LatestActiveMappingWins(t *testing.T) {
	f := newCalcFixture()
	oldFactor := f.factor("USD", "0.3")
	newFactor := f.factor("USD", "0.4")
	inactive := f.factor("USD", "9")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.mappings.mappings = []*models.CategoryFactorMapping{
		{CategoryCode: "LOGISTICS", EmissionFactorID: oldFactor.ID, IsActive: true, CreatedAt: base},
		{CategoryCode: "LOGISTICS", EmissionFactorID: newFactor.ID, IsActive: true, CreatedAt: base.Add(time.Hour), OwnerID: &f.ownerID},
		{CategoryCode: "LOGISTICS", EmissionFactorID: inactive.ID, IsActive: false, CreatedAt: base.Add(2 * time.Hour)},
	}
	supplier := f.supplier(nil)
	rec := f.record(supplier.ID, func(r *models.SpendRecord) {
		spend("10", "")(r)
		r.CategoryCode = "LOGISTICS"
	})

	_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, newFactor.ID, *f.spend.record(rec.ID).FactorUsedID)
}

func TestCalculatePending_Basis(t *testing.T) {
	f := newCalcFixture()
	monetary := f.factor("USD", "0.5")
	perKg := f.factor("kg", "2")

	monetarySupplier := f.supplier(&monetary.ID)
	physicalSupplier := f.supplier(&perKg.ID)

	qty := func(amount, unit string) func(r *models.SpendRecord) {
		return func(r *models.SpendRecord) {
			r.Quantity = nullDec(amount)
			r.QuantityUnit = unit
		}
	}

	physical := f.record(physicalSupplier.ID, func(r *models.SpendRecord) {
		qty("10.5", "KG")(r)
		spend("99999", "USD")(r)
	})
	noUnit := f.record(physicalSupplier.ID, qty("3", ""))
	tonne := f.record(physicalSupplier.ID, qty("1", "t"))
	pounds := f.record(physicalSupplier.ID, qty("2", "lb"))
	f.record(physicalSupplier.ID, spend("100", "USD")) // missing quantity
	f.record(physicalSupplier.ID, qty("5", "kWh"))     // not a mass unit
	f.record(monetarySupplier.ID, qty("100", "kg"))    // missing spend
	f.record(monetarySupplier.ID, spend("100", "EUR")) // currency mismatch

	// A record without a unit is taken at face value.
	blankCurrency := f.record(monetarySupplier.ID, spend("8", "  "))

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	assert.Equal(t, 9, report.Considered)
	assert.Equal(t, 5, report.Updated)
	assert.Equal(t, 2, report.Skipped[models.SkipMissingBasis])
	assert.Equal(t, 2, report.Skipped[models.SkipUnitMismatch])

	assert.True(t, f.spend.record(physical.ID).CalculatedCO2e.Decimal.Equal(dec("21")))
	assert.True(t, f.spend.record(noUnit.ID).CalculatedCO2e.Decimal.Equal(dec("6")))
	assert.True(t, f.spend.record(tonne.ID).CalculatedCO2e.Decimal.Equal(dec("2000")))
	// 2 lb = 0.90718474 kg
	assert.Equal(t, "1.8144", f.spend.record(pounds.ID).CalculatedCO2e.Decimal.String())
	assert.True(t, f.spend.record(blankCurrency.ID).CalculatedCO2e.Decimal.Equal(dec("4")))
}

func TestCalculatePending_ZeroBasisSettles(t *testing.T) {
	f := newCalcFixture()
	monetary := f.factor("USD", "0.5")
	perKg := f.factor("kg", "2")
	perKg.Scope1Intensity = nullDec("0.5")

	zeroSpend := f.record(f.supplier(&monetary.ID).ID, spend("0", "USD"))
	zeroQty := f.record(f.supplier(&perKg.ID).ID, func(r *models.SpendRecord) {
		r.Quantity = nullDec("0")
		r.QuantityUnit = "kg"
	})

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Updated)
	assert.Empty(t, report.Skipped)

	for _, rec := range []*models.SpendRecord{zeroSpend, zeroQty} {
		stored := f.spend.record(rec.ID)
		require.True(t, stored.IsSettled())
		assert.True(t, stored.CalculatedCO2e.Decimal.IsZero(), "got %s", stored.CalculatedCO2e.Decimal)
	}
	assert.True(t, f.spend.record(zeroQty.ID).Scope1CO2e.Decimal.IsZero())

	pending, err := f.spend.ListPending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCalculatePending_ScopeBreakdown(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "1")
	factor.Scope1Intensity = nullDec("0.1")
	factor.Scope2Intensity = nullDec("0.05")
	factor.Scope3Intensity = nullDec("0.85")
	partial := f.factor("USD", "0.3")
	partial.Scope1Intensity = nullDec("0.3")

	full := f.record(f.supplier(&factor.ID).ID, spend("200", "USD"))
	partialRec := f.record(f.supplier(&partial.ID).ID, spend("10", "USD"))

	_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	stored := f.spend.record(full.ID)
	assert.True(t, stored.CalculatedCO2e.Decimal.Equal(dec("200")))
	assert.True(t, stored.Scope1CO2e.Decimal.Equal(dec("20")))
	assert.True(t, stored.Scope2CO2e.Decimal.Equal(dec("10")))
	assert.True(t, stored.Scope3CO2e.Decimal.Equal(dec("170")))

	stored = f.spend.record(partialRec.ID)
	assert.True(t, stored.Scope1CO2e.Decimal.Equal(dec("3")))
	assert.False(t, stored.Scope2CO2e.Valid)
	assert.False(t, stored.Scope3CO2e.Valid)
}

func TestCalculatePending_RoundsToFourPlaces(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.123456")
	rec := f.record(f.supplier(&factor.ID).ID, spend("1.11", "USD"))

	_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	// 1.11 * 0.123456 = 0.13703616
	assert.Equal(t, "0.137", f.spend.record(rec.ID).CalculatedCO2e.Decimal.String())
}

func TestCalculatePending_SkipReasons(t *testing.T) {
	f := newCalcFixture()
	huge := f.factor("USD", "1000000000")
	broken := f.factor("USD", "1")
	broken.Scope1Intensity = nullDec("0.5")
	broken.Scope2Intensity = nullDec("0.5")
	broken.Scope3Intensity = nullDec("0.5")

	f.record(f.supplier(&huge.ID).ID, spend("100", "USD"))
	f.record(f.supplier(&broken.ID).ID, spend("100", "USD"))
	f.record(f.supplier(nil).ID, func(r *models.SpendRecord) {
		spend("100", "USD")(r)
		r.CategoryCode = "CAP_GOODS"
	})
	f.record(uuid.New(), spend("100", "USD")) // supplier gone

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Considered)
	assert.Zero(t, report.Updated)
	assert.Equal(t, map[models.SkipReason]int{
		models.SkipNumericOverflow: 1,
		models.SkipInvalidNumber:   1,
		models.SkipNoFactor:        2,
	}, report.Skipped)

	pending, err := f.spend.ListPending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Len(t, pending, 4, "skipped records stay pending")
}

func TestCalculatePending_Idempotent(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	rec := f.record(f.supplier(&factor.ID).ID, spend("1000.00", "USD"))
	calc := f.calculator()

	_, err := calc.CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)
	first := *f.spend.record(rec.ID).CalculatedAt

	calc.now = func() time.Time { return calcNow.Add(time.Hour) }
	report, err := calc.CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	assert.Zero(t, report.Considered)
	assert.Zero(t, report.Updated)
	assert.Equal(t, first, *f.spend.record(rec.ID).CalculatedAt, "settled records are never rewritten")
}

func TestCalculatePending_ConcurrentSettlementIsConflict(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	supplier := f.supplier(&factor.ID)
	raced := f.record(supplier.ID, spend("10", "USD"))
	clean := f.record(supplier.ID, spend("20", "USD"))

	f.spend.settleHook = func() {
		f.spend.mu.Lock()
		defer f.spend.mu.Unlock()
		f.spend.records[raced.ID].CalculatedCO2e = nullDec("1")
	}

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Considered)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, map[models.CalculationMethod]int{models.MethodSupplierLocked: 1}, report.ByMethod)
	assert.True(t, f.spend.record(raced.ID).CalculatedCO2e.Decimal.Equal(dec("1")), "winner's value is kept")
	assert.True(t, f.spend.record(clean.ID).CalculatedCO2e.Decimal.Equal(dec("10")))
}

func TestCalculatePending_SharedTimestamp(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	supplier := f.supplier(&factor.ID)
	a := f.record(supplier.ID, spend("1", "USD"))
	b := f.record(supplier.ID, spend("2", "USD"))

	_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, *f.spend.record(a.ID).CalculatedAt, *f.spend.record(b.ID).CalculatedAt)
}

func TestCalculatePending_RetriesTransientSettleFailure(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	rec := f.record(f.supplier(&factor.ID).ID, spend("4", "USD"))
	f.spend.settleErrs = []error{&pgconn.PgError{Code: "40001", Message: "could not serialize access"}}

	report, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.spend.settleCall)
	assert.Equal(t, 1, report.Updated)
	assert.True(t, f.spend.record(rec.ID).IsSettled())
}

func TestCalculatePending_PermanentSettleFailure(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	rec := f.record(f.supplier(&factor.ID).ID, spend("4", "USD"))
	f.spend.settleErrs = []error{&pgconn.PgError{Code: "23514", Message: "check constraint violated"}}

	_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
	require.Error(t, err)
	assert.Equal(t, 1, f.spend.settleCall)
	assert.False(t, f.spend.record(rec.ID).IsSettled())
	assert.Equal(t, 1, f.lock.released, "lock is released on failure")
}

func TestCalculatePending_RunLock(t *testing.T) {
	t.Run("acquired and released", func(t *testing.T) {
		f := newCalcFixture()
		_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
		require.NoError(t, err)
		assert.Equal(t, []string{"calculation:" + f.ownerID.String()}, f.lock.keys)
		assert.Equal(t, 1, f.lock.released)
	})

	t.Run("held elsewhere", func(t *testing.T) {
		f := newCalcFixture()
		factor := f.factor("USD", "0.5")
		rec := f.record(f.supplier(&factor.ID).ID, spend("4", "USD"))
		f.lock.held = true

		_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
		assert.False(t, f.spend.record(rec.ID).IsSettled())
		assert.Zero(t, f.spend.settleCall)
	})

	t.Run("lock store unavailable", func(t *testing.T) {
		f := newCalcFixture()
		f.lock.err = errors.New("redis: connection refused")

		_, err := f.calculator().CalculatePending(context.Background(), f.ownerID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, apperrors.ErrConflict)
	})
}

func TestNewEmissionCalculator_NilLockUsesNoop(t *testing.T) {
	f := newCalcFixture()
	factor := f.factor("USD", "0.5")
	f.record(f.supplier(&factor.ID).ID, spend("4", "USD"))

	calc := NewEmissionCalculator(f.spend, f.suppliers, f.factors, f.mappings, nil, CalculatorConfig{}, zap.NewNop())
	report, err := calc.CalculatePending(context.Background(), f.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
}
