package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VerifiedDisclosure is an externally audited corporate emissions disclosure.
// Emission totals are absolute figures in MassUnit for the reporting year;
// Revenue is in RevenueCurrency for the same year.
// Stored in scope_supplier_disclosures or loaded from a disclosure catalog file.
type VerifiedDisclosure struct {
	ID              uuid.UUID           `json:"id"`
	Name            string              `json:"name"`
	Domain          string              `json:"domain,omitempty"`
	ReportingYear   int                 `json:"reporting_year"`
	Scope1          decimal.NullDecimal `json:"scope_1"`
	Scope2Market    decimal.NullDecimal `json:"scope_2_market"`
	Scope2Location  decimal.NullDecimal `json:"scope_2_location"`
	Scope3          decimal.NullDecimal `json:"scope_3"`
	Revenue         decimal.NullDecimal `json:"revenue"`
	RevenueCurrency string              `json:"revenue_currency"`
	MassUnit        string              `json:"mass_unit"`
	AssuranceLevel  string              `json:"assurance_level,omitempty"`
	SourceURL       string              `json:"source_url,omitempty"`
	IngestedAt      time.Time           `json:"ingested_at"`
}

// Scope2 returns the market-based scope 2 total, falling back to location-based.
func (d *VerifiedDisclosure) Scope2() decimal.NullDecimal {
	if d.Scope2Market.Valid {
		return d.Scope2Market
	}
	return d.Scope2Location
}

// Currency returns the revenue currency, USD when unset.
func (d *VerifiedDisclosure) Currency() string {
	if c := strings.TrimSpace(d.RevenueCurrency); c != "" {
		return strings.ToUpper(c)
	}
	return "USD"
}

// Intensities derives overall and per-scope intensities in kg CO2e per unit
// of revenue. Every scope total and a positive revenue are required.
func (d *VerifiedDisclosure) Intensities() (decimal.Decimal, [3]decimal.Decimal, error) {
	var scopes [3]decimal.Decimal

	if !d.Revenue.Valid || !d.Revenue.Decimal.IsPositive() {
		return decimal.Zero, scopes, fmt.Errorf("disclosure %q: revenue must be positive", d.Name)
	}

	totals := [3]decimal.NullDecimal{d.Scope1, d.Scope2(), d.Scope3}
	sum := decimal.Zero
	for i, total := range totals {
		if !total.Valid {
			return decimal.Zero, scopes, fmt.Errorf("disclosure %q: scope %d total is missing", d.Name, i+1)
		}
		kg, err := NormalizeMassToKg(total.Decimal, d.MassUnit)
		if err != nil {
			return decimal.Zero, scopes, fmt.Errorf("disclosure %q: %w", d.Name, err)
		}
		scopes[i] = kg.Div(d.Revenue.Decimal)
		sum = sum.Add(kg)
	}

	return sum.Div(d.Revenue.Decimal), scopes, nil
}
