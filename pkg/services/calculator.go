package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
	"github.com/scopeops/scopeops-engine/pkg/retry"
)

// co2eScale is the number of decimal places stored for calculated emissions.
const co2eScale = 4

// co2eLimit is the smallest magnitude that no longer fits NUMERIC(14,4).
var co2eLimit = decimal.New(1, 10)

// EmissionCalculator settles pending spend records into CO2e estimates.
type EmissionCalculator interface {
	// CalculatePending computes and stores emissions for every unsettled record
	// of the owner. Per-record problems are counted as skips; only storage
	// failures abort the pass.
	CalculatePending(ctx context.Context, ownerID uuid.UUID) (*models.CalculationReport, error)
}

// CalculatorConfig tunes settlement retries and the run lock.
type CalculatorConfig struct {
	RunLockTTL time.Duration
	Retry      *retry.Config
}

// factorRule proposes a factor for a record. A nil ID means the rule does not apply.
type factorRule struct {
	method models.CalculationMethod
	pick   func(ctx context.Context, pass *calculationPass, record *models.SpendRecord) (*uuid.UUID, error)
}

type emissionCalculator struct {
	spendRepo    repositories.SpendRecordRepository
	supplierRepo repositories.SupplierRepository
	factorRepo   repositories.EmissionFactorRepository
	mappingRepo  repositories.CategoryMappingRepository
	runLock      RunLock
	rules        []factorRule
	config       CalculatorConfig
	now          func() time.Time
	logger       *zap.Logger
}

// NewEmissionCalculator creates an EmissionCalculator. Factors are chosen by
// the supplier's locked factor, then the record's manual override, then the
// category's authoritative mapping.
func NewEmissionCalculator(
	spendRepo repositories.SpendRecordRepository,
	supplierRepo repositories.SupplierRepository,
	factorRepo repositories.EmissionFactorRepository,
	mappingRepo repositories.CategoryMappingRepository,
	runLock RunLock,
	cfg CalculatorConfig,
	logger *zap.Logger,
) EmissionCalculator {
	if runLock == nil {
		runLock = NewNoopRunLock()
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = 5 * time.Minute
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}

	return &emissionCalculator{
		spendRepo:    spendRepo,
		supplierRepo: supplierRepo,
		factorRepo:   factorRepo,
		mappingRepo:  mappingRepo,
		runLock:      runLock,
		rules: []factorRule{
			{method: models.MethodSupplierLocked, pick: pickSupplierLocked},
			{method: models.MethodManualOverride, pick: pickManualOverride},
			{method: models.MethodCategoryAverage, pick: pickCategoryAverage},
		},
		config: cfg,
		now:    time.Now,
		logger: logger.Named("calculator"),
	}
}

var _ EmissionCalculator = (*emissionCalculator)(nil)

func (c *emissionCalculator) CalculatePending(ctx context.Context, ownerID uuid.UUID) (*models.CalculationReport, error) {
	release, acquired, err := c.runLock.TryAcquire(ctx, "calculation:"+ownerID.String(), c.config.RunLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("%w: calculation already running for owner", apperrors.ErrConflict)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Failed to release calculation lock",
				zap.String("owner_id", ownerID.String()),
				zap.Error(err))
		}
	}()

	records, err := c.spendRepo.ListPending(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}

	report := models.NewCalculationReport()
	report.Considered = len(records)

	pass := newCalculationPass(c, ownerID)
	calculatedAt := c.now().UTC().Truncate(time.Microsecond)

	settlements := make([]models.Settlement, 0, len(records))
	for _, record := range records {
		factor, method, err := c.selectFactor(ctx, pass, record)
		if err != nil {
			return nil, err
		}
		if factor == nil {
			report.Skipped[models.SkipNoFactor]++
			continue
		}

		settlement, reason := computeSettlement(record, factor)
		if reason != "" {
			report.Skipped[reason]++
			c.logger.Debug("Skipped spend record",
				zap.String("record_id", record.ID.String()),
				zap.String("factor_id", factor.ID.String()),
				zap.String("reason", string(reason)))
			continue
		}
		settlement.Method = method
		settlement.CalculatedAt = calculatedAt
		settlements = append(settlements, settlement)
	}

	var result *repositories.SettleResult
	err = retry.DoIfRetryable(ctx, c.config.Retry, func() error {
		var settleErr error
		result, settleErr = c.spendRepo.SettleBatch(ctx, ownerID, settlements)
		return settleErr
	})
	if err != nil {
		return nil, fmt.Errorf("settle spend records: %w", err)
	}

	conflicted := make(map[uuid.UUID]bool, len(result.ConflictIDs))
	for _, id := range result.ConflictIDs {
		conflicted[id] = true
	}
	for _, s := range settlements {
		if !conflicted[s.RecordID] {
			report.ByMethod[s.Method]++
		}
	}
	report.Updated = result.Updated
	report.Conflicts = len(result.ConflictIDs)

	c.logger.Info("Calculated emissions",
		zap.String("owner_id", ownerID.String()),
		zap.Int("considered", report.Considered),
		zap.Int("updated", report.Updated),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("skipped", report.TotalSkipped()))
	return report, nil
}

// selectFactor walks the rule chain. A rule whose factor no longer exists is
// passed over as if it did not apply.
func (c *emissionCalculator) selectFactor(ctx context.Context, pass *calculationPass, record *models.SpendRecord) (*models.EmissionFactor, models.CalculationMethod, error) {
	for _, rule := range c.rules {
		factorID, err := rule.pick(ctx, pass, record)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", rule.method, err)
		}
		if factorID == nil {
			continue
		}

		factor, err := pass.factor(ctx, *factorID)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", rule.method, err)
		}
		if factor != nil {
			return factor, rule.method, nil
		}
	}
	return nil, "", nil
}

func pickSupplierLocked(ctx context.Context, pass *calculationPass, record *models.SpendRecord) (*uuid.UUID, error) {
	supplier, err := pass.supplier(ctx, record.SupplierID)
	if err != nil || supplier == nil {
		return nil, err
	}
	return supplier.ResolvedFactorID, nil
}

func pickManualOverride(_ context.Context, _ *calculationPass, record *models.SpendRecord) (*uuid.UUID, error) {
	return record.ManualFactorID, nil
}

func pickCategoryAverage(ctx context.Context, pass *calculationPass, record *models.SpendRecord) (*uuid.UUID, error) {
	if strings.TrimSpace(record.CategoryCode) == "" {
		return nil, nil
	}
	mapping, err := pass.mapping(ctx, record.CategoryCode)
	if err != nil || mapping == nil {
		return nil, err
	}
	return &mapping.EmissionFactorID, nil
}

// computeSettlement applies factor to the record's basis. A non-empty reason
// means the record must stay pending.
func computeSettlement(record *models.SpendRecord, factor *models.EmissionFactor) (models.Settlement, models.SkipReason) {
	if err := factor.Validate(); err != nil {
		return models.Settlement{}, models.SkipInvalidNumber
	}

	var basis decimal.NullDecimal
	var recordUnit string
	if factor.IsMonetary() {
		basis, recordUnit = record.SpendAmount, record.Currency
	} else {
		basis, recordUnit = record.Quantity, record.QuantityUnit
	}
	if !basis.Valid {
		return models.Settlement{}, models.SkipMissingBasis
	}
	amount := basis.Decimal
	if unit := strings.TrimSpace(recordUnit); unit != "" && !strings.EqualFold(unit, strings.TrimSpace(factor.Unit)) {
		// Only mass quantities convert; currencies never do.
		if factor.IsMonetary() {
			return models.Settlement{}, models.SkipUnitMismatch
		}
		converted, ok := models.ConvertMass(amount, unit, factor.Unit)
		if !ok {
			return models.Settlement{}, models.SkipUnitMismatch
		}
		amount = converted
	}

	co2e := amount.Mul(factor.Intensity).Round(co2eScale)
	if co2e.Abs().GreaterThanOrEqual(co2eLimit) {
		return models.Settlement{}, models.SkipNumericOverflow
	}

	settlement := models.Settlement{
		RecordID:     record.ID,
		CO2e:         co2e,
		FactorUsedID: factor.ID,
	}
	for i, intensity := range factor.ScopeIntensities() {
		if !intensity.Valid {
			continue
		}
		value := amount.Mul(intensity.Decimal).Round(co2eScale)
		if value.Abs().GreaterThanOrEqual(co2eLimit) {
			return models.Settlement{}, models.SkipNumericOverflow
		}
		settlement.ScopeCO2e[i] = decimal.NewNullDecimal(value)
	}
	return settlement, ""
}

// calculationPass memoizes lookups for one CalculatePending call.
type calculationPass struct {
	calc      *emissionCalculator
	ownerID   uuid.UUID
	suppliers map[uuid.UUID]*models.Supplier
	factors   map[uuid.UUID]*models.EmissionFactor
	mappings  map[string]*models.CategoryFactorMapping
}

func newCalculationPass(calc *emissionCalculator, ownerID uuid.UUID) *calculationPass {
	return &calculationPass{
		calc:      calc,
		ownerID:   ownerID,
		suppliers: make(map[uuid.UUID]*models.Supplier),
		factors:   make(map[uuid.UUID]*models.EmissionFactor),
		mappings:  make(map[string]*models.CategoryFactorMapping),
	}
}

func (p *calculationPass) supplier(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	if s, ok := p.suppliers[id]; ok {
		return s, nil
	}
	s, err := p.calc.supplierRepo.GetByID(ctx, p.ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	p.suppliers[id] = s
	return s, nil
}

func (p *calculationPass) factor(ctx context.Context, id uuid.UUID) (*models.EmissionFactor, error) {
	if f, ok := p.factors[id]; ok {
		return f, nil
	}
	f, err := p.calc.factorRepo.GetByID(ctx, p.ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get emission factor: %w", err)
	}
	p.factors[id] = f
	return f, nil
}

func (p *calculationPass) mapping(ctx context.Context, categoryCode string) (*models.CategoryFactorMapping, error) {
	if m, ok := p.mappings[categoryCode]; ok {
		return m, nil
	}
	m, err := p.calc.mappingRepo.GetAuthoritative(ctx, p.ownerID, categoryCode)
	if err != nil {
		return nil, fmt.Errorf("get category mapping: %w", err)
	}
	p.mappings[categoryCode] = m
	return m, nil
}
