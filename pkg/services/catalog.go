package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// Magnitude limits of the spend record columns NUMERIC(14,2) and NUMERIC(18,4).
var (
	spendAmountLimit = decimal.New(1, 12)
	quantityLimit    = decimal.New(1, 14)
)

// CatalogService records the owner-entered data the engine calculates from:
// private emission factors, category mappings and spend records.
type CatalogService interface {
	ListCategories(ctx context.Context) ([]*models.Category, error)

	// CreateEmissionFactor stores a factor private to the owner.
	CreateEmissionFactor(ctx context.Context, ownerID uuid.UUID, factor *models.EmissionFactor) error

	// ListEmissionFactors returns global factors plus the owner's private ones.
	ListEmissionFactors(ctx context.Context, ownerID uuid.UUID) ([]*models.EmissionFactor, error)

	// CreateCategoryMapping binds a category to a visible factor for the owner.
	// The newest active mapping becomes authoritative for the category.
	CreateCategoryMapping(ctx context.Context, ownerID uuid.UUID, mapping *models.CategoryFactorMapping) error

	// CreateSpendRecord stores a pending record for one of the owner's suppliers.
	CreateSpendRecord(ctx context.Context, ownerID uuid.UUID, record *models.SpendRecord) error
}

type catalogService struct {
	categoryRepo repositories.CategoryRepository
	factorRepo   repositories.EmissionFactorRepository
	mappingRepo  repositories.CategoryMappingRepository
	spendRepo    repositories.SpendRecordRepository
	supplierRepo repositories.SupplierRepository
	logger       *zap.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(
	categoryRepo repositories.CategoryRepository,
	factorRepo repositories.EmissionFactorRepository,
	mappingRepo repositories.CategoryMappingRepository,
	spendRepo repositories.SpendRecordRepository,
	supplierRepo repositories.SupplierRepository,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		categoryRepo: categoryRepo,
		factorRepo:   factorRepo,
		mappingRepo:  mappingRepo,
		spendRepo:    spendRepo,
		supplierRepo: supplierRepo,
		logger:       logger.Named("catalog"),
	}
}

var _ CatalogService = (*catalogService)(nil)

func (s *catalogService) ListCategories(ctx context.Context) ([]*models.Category, error) {
	categories, err := s.categoryRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *catalogService) CreateEmissionFactor(ctx context.Context, ownerID uuid.UUID, factor *models.EmissionFactor) error {
	factor.Name = strings.TrimSpace(factor.Name)
	factor.Provider = strings.TrimSpace(factor.Provider)
	factor.Unit = strings.TrimSpace(factor.Unit)
	factor.Geography = strings.TrimSpace(factor.Geography)
	factor.Version = strings.TrimSpace(factor.Version)

	if factor.Provider == "" {
		return fmt.Errorf("%w: factor provider is required", apperrors.ErrInvalidInput)
	}
	if models.IsReservedProvider(factor.Provider) {
		return fmt.Errorf("%w: provider %q is reserved", apperrors.ErrInvalidInput, factor.Provider)
	}
	if factor.Year <= 0 {
		return fmt.Errorf("%w: factor year is required", apperrors.ErrInvalidInput)
	}
	if factor.Version == "" {
		return fmt.Errorf("%w: factor version is required", apperrors.ErrInvalidInput)
	}
	if factor.Geography == "" {
		factor.Geography = models.GlobalGeography
	}
	if models.IsCurrencyUnit(factor.Unit) {
		factor.Unit = strings.ToUpper(factor.Unit)
	}
	if err := factor.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	factor.ID = uuid.New()
	factor.OwnerID = &ownerID

	if err := s.factorRepo.CreatePrivate(ctx, factor); err != nil {
		return fmt.Errorf("create emission factor: %w", err)
	}

	s.logger.Info("Created private emission factor",
		zap.String("owner_id", ownerID.String()),
		zap.String("factor_id", factor.ID.String()),
		zap.String("name", factor.Name),
		zap.String("unit", factor.Unit))
	return nil
}

func (s *catalogService) ListEmissionFactors(ctx context.Context, ownerID uuid.UUID) ([]*models.EmissionFactor, error) {
	factors, err := s.factorRepo.ListVisible(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list emission factors: %w", err)
	}
	return factors, nil
}

func (s *catalogService) CreateCategoryMapping(ctx context.Context, ownerID uuid.UUID, mapping *models.CategoryFactorMapping) error {
	mapping.CategoryCode = strings.TrimSpace(mapping.CategoryCode)
	if err := s.requireCategory(ctx, mapping.CategoryCode); err != nil {
		return err
	}
	if err := s.requireVisibleFactor(ctx, ownerID, mapping.EmissionFactorID); err != nil {
		return err
	}

	confidence, ok := models.NormalizeMappingConfidence(mapping.Confidence)
	if !ok {
		return fmt.Errorf("%w: confidence must be one of %s, %s, %s", apperrors.ErrInvalidInput,
			models.MappingConfidenceHigh, models.MappingConfidenceMedium, models.MappingConfidenceLow)
	}
	mapping.Confidence = confidence
	mapping.Rationale = strings.TrimSpace(mapping.Rationale)
	mapping.ID = uuid.New()
	mapping.OwnerID = &ownerID

	if err := s.mappingRepo.Create(ctx, mapping); err != nil {
		return fmt.Errorf("create category mapping: %w", err)
	}
	return nil
}

func (s *catalogService) CreateSpendRecord(ctx context.Context, ownerID uuid.UUID, record *models.SpendRecord) error {
	supplier, err := s.supplierRepo.GetByID(ctx, ownerID, record.SupplierID)
	if err != nil {
		return fmt.Errorf("get supplier: %w", err)
	}
	if supplier == nil {
		return apperrors.ErrNotFound
	}

	if err := validateSpendBasis(record); err != nil {
		return err
	}
	if record.FiscalYear <= 0 {
		return fmt.Errorf("%w: fiscal year is required", apperrors.ErrInvalidInput)
	}

	record.CategoryCode = strings.TrimSpace(record.CategoryCode)
	if record.CategoryCode != "" {
		if err := s.requireCategory(ctx, record.CategoryCode); err != nil {
			return err
		}
	}
	if record.ManualFactorID != nil {
		if err := s.requireVisibleFactor(ctx, ownerID, *record.ManualFactorID); err != nil {
			return err
		}
	}

	record.ID = uuid.New()
	record.OwnerID = ownerID
	record.MaterialType = strings.TrimSpace(record.MaterialType)
	record.CalculatedCO2e = decimal.NullDecimal{}
	record.Scope1CO2e = decimal.NullDecimal{}
	record.Scope2CO2e = decimal.NullDecimal{}
	record.Scope3CO2e = decimal.NullDecimal{}
	record.FactorUsedID = nil
	record.CalculatedAt = nil
	record.CalculationMethod = ""

	if err := s.spendRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("create spend record: %w", err)
	}
	return nil
}

// validateSpendBasis checks that a record carries at least one usable basis
// and that each present basis fits its column.
func validateSpendBasis(record *models.SpendRecord) error {
	record.Currency = strings.ToUpper(strings.TrimSpace(record.Currency))
	record.QuantityUnit = strings.TrimSpace(record.QuantityUnit)

	if !record.SpendAmount.Valid && !record.Quantity.Valid {
		return fmt.Errorf("%w: spend amount or quantity is required", apperrors.ErrInvalidInput)
	}

	if record.SpendAmount.Valid {
		amount := record.SpendAmount.Decimal
		if amount.IsNegative() || amount.GreaterThanOrEqual(spendAmountLimit) {
			return fmt.Errorf("%w: spend amount %s is out of range", apperrors.ErrInvalidInput, amount)
		}
		if !models.IsCurrencyUnit(record.Currency) {
			return fmt.Errorf("%w: spend amount needs an ISO 4217 currency, got %q", apperrors.ErrInvalidInput, record.Currency)
		}
	}

	if record.Quantity.Valid {
		quantity := record.Quantity.Decimal
		if quantity.IsNegative() || quantity.GreaterThanOrEqual(quantityLimit) {
			return fmt.Errorf("%w: quantity %s is out of range", apperrors.ErrInvalidInput, quantity)
		}
		if record.QuantityUnit == "" {
			return fmt.Errorf("%w: quantity unit is required with a quantity", apperrors.ErrInvalidInput)
		}
	}
	return nil
}

func (s *catalogService) requireCategory(ctx context.Context, code string) error {
	if code == "" {
		return fmt.Errorf("%w: category code is required", apperrors.ErrInvalidInput)
	}
	category, err := s.categoryRepo.GetByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return fmt.Errorf("%w: unknown category %q", apperrors.ErrInvalidInput, code)
	}
	return nil
}

func (s *catalogService) requireVisibleFactor(ctx context.Context, ownerID, factorID uuid.UUID) error {
	factor, err := s.factorRepo.GetByID(ctx, ownerID, factorID)
	if err != nil {
		return fmt.Errorf("get emission factor: %w", err)
	}
	if factor == nil {
		return fmt.Errorf("%w: emission factor %s not found", apperrors.ErrInvalidInput, factorID)
	}
	return nil
}
