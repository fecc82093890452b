package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Providers with special meaning to the resolver.
const (
	ProviderVerifiedDisclosure = "Verified Supplier Disclosure"
	ProviderDitchCarbon        = "DitchCarbon"
)

// IsReservedProvider reports whether provider names a source whose factors
// only the engine's own import paths may write.
func IsReservedProvider(provider string) bool {
	p := strings.TrimSpace(provider)
	return strings.EqualFold(p, ProviderVerifiedDisclosure) || strings.EqualFold(p, ProviderDitchCarbon)
}

// Defaults stamped on factors synthesized from verified disclosures.
const (
	VerifiedMethodology = "Direct corporate disclosure override"
	VerifiedVersion     = "1.0"
	GlobalGeography     = "Global"
)

// scopeSumTolerance bounds rounding drift between the overall intensity and
// the sum of its per-scope parts.
var scopeSumTolerance = decimal.New(1, -9)

// EmissionFactor is an intensity record (kg CO2e per unit). Immutable after
// creation. A nil OwnerID marks a global factor.
// Stored in scope_emission_factors.
type EmissionFactor struct {
	ID              uuid.UUID           `json:"id"`
	OwnerID         *uuid.UUID          `json:"owner_id,omitempty"`
	ExternalID      string              `json:"external_id,omitempty"`
	Provider        string              `json:"provider"`
	Name            string              `json:"name"`
	Geography       string              `json:"geography"`
	Year            int                 `json:"year"`
	Unit            string              `json:"unit"`
	Intensity       decimal.Decimal     `json:"intensity"`
	Scope1Intensity decimal.NullDecimal `json:"scope1_intensity"`
	Scope2Intensity decimal.NullDecimal `json:"scope2_intensity"`
	Scope3Intensity decimal.NullDecimal `json:"scope3_intensity"`
	SourceURL       string              `json:"source_url,omitempty"`
	Methodology     string              `json:"methodology,omitempty"`
	Version         string              `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
}

// IsGlobal reports whether the factor is visible to every owner.
func (f *EmissionFactor) IsGlobal() bool {
	return f.OwnerID == nil
}

// IsMonetary reports whether the factor's unit is an ISO 4217 currency code,
// which makes spend amount the calculation basis.
func (f *EmissionFactor) IsMonetary() bool {
	return IsCurrencyUnit(f.Unit)
}

// ScopeIntensities returns the per-scope intensities in scope order.
func (f *EmissionFactor) ScopeIntensities() [3]decimal.NullDecimal {
	return [3]decimal.NullDecimal{f.Scope1Intensity, f.Scope2Intensity, f.Scope3Intensity}
}

// Validate checks the invariants a factor must hold before it is stored.
func (f *EmissionFactor) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("factor name is required")
	}
	if strings.TrimSpace(f.Unit) == "" {
		return fmt.Errorf("factor unit is required")
	}
	if f.Intensity.IsNegative() {
		return fmt.Errorf("factor intensity must not be negative")
	}

	sum := decimal.Zero
	present := 0
	for i, scope := range f.ScopeIntensities() {
		if !scope.Valid {
			continue
		}
		if scope.Decimal.IsNegative() {
			return fmt.Errorf("scope %d intensity must not be negative", i+1)
		}
		sum = sum.Add(scope.Decimal)
		present++
	}

	switch {
	case present == 3 && sum.Sub(f.Intensity).Abs().GreaterThan(scopeSumTolerance):
		return fmt.Errorf("scope intensities sum to %s but overall intensity is %s", sum, f.Intensity)
	case present > 0 && sum.Sub(f.Intensity).GreaterThan(scopeSumTolerance):
		return fmt.Errorf("partial scope intensities sum to %s, above overall intensity %s", sum, f.Intensity)
	}
	return nil
}

// IsCurrencyUnit reports whether unit is a recognized ISO 4217 currency code.
func IsCurrencyUnit(unit string) bool {
	code := strings.ToUpper(strings.TrimSpace(unit))
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}
