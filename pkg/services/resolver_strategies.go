package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/config"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// ResolutionStrategy is one rule in the factor resolution chain.
// TryResolve returns nil, nil when the rule does not apply to the supplier.
type ResolutionStrategy interface {
	Name() string
	TryResolve(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error)
}

// NewResolutionStrategies builds the strategy chain in configured order.
func NewResolutionStrategies(
	cfg *config.ResolutionConfig,
	source DisclosureSource,
	factorRepo repositories.EmissionFactorRepository,
	matcher FactorMatcher,
	logger *zap.Logger,
) ([]ResolutionStrategy, error) {
	strategies := make([]ResolutionStrategy, 0, len(cfg.StrategyOrder))
	for _, name := range cfg.StrategyOrder {
		switch name {
		case config.StrategyVerifiedOverride:
			strategies = append(strategies, NewVerifiedOverrideStrategy(source, factorRepo, cfg.DisclosureKeys, logger))
		case config.StrategyFuzzyIndustry:
			strategies = append(strategies, NewFuzzyIndustryStrategy(matcher, factorRepo, cfg.MinMatchScore))
		default:
			return nil, fmt.Errorf("unknown resolution strategy %q", name)
		}
	}
	return strategies, nil
}

// ============================================================================
// Verified disclosure override
// ============================================================================

// VerifiedOverrideStrategy binds suppliers that publish their own emissions
// to a factor derived from that disclosure.
type VerifiedOverrideStrategy struct {
	source     DisclosureSource
	factorRepo repositories.EmissionFactorRepository
	keys       []string
	logger     *zap.Logger
}

// NewVerifiedOverrideStrategy creates the verified override rule. keys lists
// the supplier attributes ("domain", "name") tried in order.
func NewVerifiedOverrideStrategy(
	source DisclosureSource,
	factorRepo repositories.EmissionFactorRepository,
	keys []string,
	logger *zap.Logger,
) *VerifiedOverrideStrategy {
	return &VerifiedOverrideStrategy{
		source:     source,
		factorRepo: factorRepo,
		keys:       keys,
		logger:     logger.Named("verified_override"),
	}
}

func (s *VerifiedOverrideStrategy) Name() string {
	return config.StrategyVerifiedOverride
}

func (s *VerifiedOverrideStrategy) TryResolve(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error) {
	disclosure, err := s.findDisclosure(ctx, supplier)
	if err != nil {
		return nil, err
	}
	if disclosure == nil {
		return nil, nil
	}

	existing, err := s.factorRepo.FindByNameYear(ctx, ownerID, disclosure.Name, disclosure.ReportingYear)
	if err != nil {
		return nil, fmt.Errorf("find verified factor: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	factor, err := VerifiedFactorFromDisclosure(disclosure, supplier.Region)
	if err != nil {
		s.logger.Warn("Disclosure is unusable for a verified factor",
			zap.String("supplier_id", supplier.ID.String()),
			zap.String("disclosure", disclosure.Name),
			zap.Int("reporting_year", disclosure.ReportingYear),
			zap.Error(err))
		return nil, nil
	}

	stored, created, err := s.factorRepo.CreateVerified(ctx, factor)
	if err != nil {
		return nil, fmt.Errorf("create verified factor: %w", err)
	}
	if created {
		s.logger.Info("Created verified emission factor",
			zap.String("factor_id", stored.ID.String()),
			zap.String("name", stored.Name),
			zap.Int("year", stored.Year))
	}
	return stored, nil
}

func (s *VerifiedOverrideStrategy) findDisclosure(ctx context.Context, supplier *models.Supplier) (*models.VerifiedDisclosure, error) {
	for _, key := range s.keys {
		var (
			disclosure *models.VerifiedDisclosure
			err        error
		)
		switch key {
		case config.DisclosureKeyDomain:
			domainKey := NormalizeDomain(supplier.Domain)
			if domainKey == "" {
				continue
			}
			disclosure, err = s.source.LookupByDomain(ctx, domainKey)
		case config.DisclosureKeyName:
			nameKey := NormalizeCompanyName(supplier.Name)
			if nameKey == "" {
				continue
			}
			disclosure, err = s.source.LookupByName(ctx, nameKey)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("look up disclosure by %s: %w", key, err)
		}
		if disclosure != nil {
			return disclosure, nil
		}
	}
	return nil, nil
}

// VerifiedFactorFromDisclosure derives a global spend-based factor from a
// disclosure: each scope's mass in kg divided by revenue, in revenue currency.
func VerifiedFactorFromDisclosure(d *models.VerifiedDisclosure, region string) (*models.EmissionFactor, error) {
	total, scopes, err := d.Intensities()
	if err != nil {
		return nil, err
	}

	geography := strings.TrimSpace(region)
	if geography == "" {
		geography = models.GlobalGeography
	}

	factor := &models.EmissionFactor{
		Provider:        models.ProviderVerifiedDisclosure,
		Name:            d.Name,
		Geography:       geography,
		Year:            d.ReportingYear,
		Unit:            d.Currency(),
		Intensity:       total,
		Scope1Intensity: decimal.NewNullDecimal(scopes[0]),
		Scope2Intensity: decimal.NewNullDecimal(scopes[1]),
		Scope3Intensity: decimal.NewNullDecimal(scopes[2]),
		SourceURL:       d.SourceURL,
		Methodology:     models.VerifiedMethodology,
		Version:         models.VerifiedVersion,
	}
	if err := factor.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidFactor, err)
	}
	return factor, nil
}

// ============================================================================
// Fuzzy industry match
// ============================================================================

// FuzzyIndustryStrategy binds a supplier to the factor whose name best matches
// its industry label.
type FuzzyIndustryStrategy struct {
	matcher    FactorMatcher
	factorRepo repositories.EmissionFactorRepository
	minScore   float64
}

// NewFuzzyIndustryStrategy creates the fuzzy industry rule.
func NewFuzzyIndustryStrategy(matcher FactorMatcher, factorRepo repositories.EmissionFactorRepository, minScore float64) *FuzzyIndustryStrategy {
	return &FuzzyIndustryStrategy{
		matcher:    matcher,
		factorRepo: factorRepo,
		minScore:   minScore,
	}
}

func (s *FuzzyIndustryStrategy) Name() string {
	return config.StrategyFuzzyIndustry
}

func (s *FuzzyIndustryStrategy) TryResolve(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error) {
	if !supplier.HasIndustryLabel() {
		return nil, nil
	}

	names, err := s.factorRepo.ListVisibleNames(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list factor names: %w", err)
	}

	match, ok := s.matcher.BestMatch(supplier.IndustryLabel, names, s.minScore)
	if !ok {
		return nil, nil
	}

	factor, err := s.factorRepo.GetPreferredByName(ctx, ownerID, match.Label)
	if err != nil {
		return nil, fmt.Errorf("get factor %q: %w", match.Label, err)
	}
	return factor, nil
}
