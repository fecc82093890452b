package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CalculationMethod tags how a record's factor was chosen.
type CalculationMethod string

const (
	MethodSupplierLocked  CalculationMethod = "Supplier_Locked"
	MethodManualOverride  CalculationMethod = "Manual_Override"
	MethodCategoryAverage CalculationMethod = "Category_Average"
)

// String returns the string representation of a CalculationMethod.
func (m CalculationMethod) String() string {
	return string(m)
}

// SkipReason explains why a pending record was left unsettled.
type SkipReason string

const (
	SkipNoFactor        SkipReason = "no_factor"
	SkipMissingBasis    SkipReason = "missing_basis"
	SkipUnitMismatch    SkipReason = "unit_mismatch"
	SkipNumericOverflow SkipReason = "numeric_overflow"
	SkipInvalidNumber   SkipReason = "invalid_number"
)

// CalculationReport summarizes one calculation pass.
type CalculationReport struct {
	Considered int                       `json:"considered"`
	Updated    int                       `json:"updated"`
	Conflicts  int                       `json:"conflicts"`
	Skipped    map[SkipReason]int        `json:"skipped"`
	ByMethod   map[CalculationMethod]int `json:"by_method"`
}

// NewCalculationReport returns an empty report with initialized maps.
func NewCalculationReport() *CalculationReport {
	return &CalculationReport{
		Skipped:  make(map[SkipReason]int),
		ByMethod: make(map[CalculationMethod]int),
	}
}

// TotalSkipped returns the number of records left pending for any reason.
func (r *CalculationReport) TotalSkipped() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// ResolutionSummary summarizes a batch resolution run.
type ResolutionSummary struct {
	Attempted  int `json:"attempted"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Failed     int `json:"failed"`
}

// EmissionTotals are summed spend and emissions for a set of suppliers.
type EmissionTotals struct {
	TotalSpend     decimal.Decimal    `json:"total_spend"`
	TotalEmissions decimal.Decimal    `json:"total_emissions"`
	ScopeEmissions [3]decimal.Decimal `json:"scope_emissions"`
	SettledRecords int                `json:"settled_records"`
	PendingRecords int                `json:"pending_records"`
}

// RollupResult is the aggregate over a supplier and all its descendants.
type RollupResult struct {
	SupplierID    uuid.UUID `json:"supplier_id"`
	SupplierCount int       `json:"supplier_count"`
	EmissionTotals
}
