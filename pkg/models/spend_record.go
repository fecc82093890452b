package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SpendRecord is one line of spend or physical activity attributed to a
// supplier. A record with a non-null CalculatedCO2e is settled and is never
// recalculated. Stored in scope_spend_records.
type SpendRecord struct {
	ID           uuid.UUID           `json:"id"`
	OwnerID      uuid.UUID           `json:"owner_id"`
	SupplierID   uuid.UUID           `json:"supplier_id"`
	CategoryCode string              `json:"category_code"`
	FiscalYear   int                 `json:"fiscal_year"`
	SpendAmount  decimal.NullDecimal `json:"spend_amount"`
	Currency     string              `json:"currency,omitempty"`
	Quantity     decimal.NullDecimal `json:"quantity"`
	QuantityUnit string              `json:"quantity_unit,omitempty"`
	MaterialType string              `json:"material_type,omitempty"`

	// ManualFactorID is a factor explicitly chosen for this record by a user.
	ManualFactorID *uuid.UUID `json:"manual_factor_id,omitempty"`

	CalculatedCO2e    decimal.NullDecimal `json:"calculated_co2e"`
	Scope1CO2e        decimal.NullDecimal `json:"scope1_co2e"`
	Scope2CO2e        decimal.NullDecimal `json:"scope2_co2e"`
	Scope3CO2e        decimal.NullDecimal `json:"scope3_co2e"`
	FactorUsedID      *uuid.UUID          `json:"factor_used_id,omitempty"`
	CalculatedAt      *time.Time          `json:"calculated_at,omitempty"`
	CalculationMethod CalculationMethod   `json:"calculation_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsSettled reports whether the record already carries a calculated CO2e.
func (r *SpendRecord) IsSettled() bool {
	return r.CalculatedCO2e.Valid
}

// Settlement is the write applied to a pending record by a calculation pass.
type Settlement struct {
	RecordID     uuid.UUID
	CO2e         decimal.Decimal
	ScopeCO2e    [3]decimal.NullDecimal
	FactorUsedID uuid.UUID
	Method       CalculationMethod
	CalculatedAt time.Time
}
