package models

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Mass unit errors. These can be compared with errors.Is().
var (
	ErrInvalidMassUnit   = errors.New("invalid emissions mass unit")
	ErrNegativeEmissions = errors.New("negative emissions value")
)

var (
	gramsToKg  = decimal.New(1, -3)
	kgToKg     = decimal.New(1, 0)
	tonnesToKg = decimal.New(1000, 0)
	poundsToKg = decimal.RequireFromString("0.45359237")
)

// massUnitFactor returns the multiplier to kilograms for a mass unit.
// Matching is case-insensitive; an empty unit means metric tonnes, the unit
// corporate disclosures report in.
func massUnitFactor(unit string) (decimal.Decimal, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "g", "gco2e":
		return gramsToKg, true
	case "kg", "kgco2e":
		return kgToKg, true
	case "", "t", "tco2e", "tonne", "tonnes":
		return tonnesToKg, true
	case "lb", "lbco2e":
		return poundsToKg, true
	default:
		return decimal.Zero, false
	}
}

// NormalizeMassToKg converts an emissions mass in unit to kilograms.
func NormalizeMassToKg(value decimal.Decimal, unit string) (decimal.Decimal, error) {
	if value.IsNegative() {
		return decimal.Zero, ErrNegativeEmissions
	}
	factor, ok := massUnitFactor(unit)
	if !ok {
		return decimal.Zero, ErrInvalidMassUnit
	}
	return value.Mul(factor), nil
}

// ConvertMass expresses a quantity given in unit from in unit to. Both units
// must be named mass units; a blank unit is not converted.
func ConvertMass(value decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return decimal.Zero, false
	}
	fromKg, ok := massUnitFactor(from)
	if !ok {
		return decimal.Zero, false
	}
	toKg, ok := massUnitFactor(to)
	if !ok {
		return decimal.Zero, false
	}
	return value.Mul(fromKg).Div(toKg), true
}
