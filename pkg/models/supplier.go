// Package models contains domain types for scopeops-engine.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Supplier is a vendor or organizational unit owned by one account.
// Stored in scope_suppliers. ParentID is a structural reference within the
// same owner's supplier set; the parent relation must stay acyclic.
type Supplier struct {
	ID               uuid.UUID  `json:"id"`
	OwnerID          uuid.UUID  `json:"owner_id"`
	Name             string     `json:"name"`
	Domain           string     `json:"domain,omitempty"`
	IndustryLabel    string     `json:"industry_label,omitempty"`
	Region           string     `json:"region,omitempty"`
	ResolvedFactorID *uuid.UUID `json:"resolved_factor_id,omitempty"`
	FactorLockedAt   *time.Time `json:"factor_locked_at,omitempty"`
	ParentID         *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasIndustryLabel reports whether the supplier carries a non-blank industry label.
func (s *Supplier) HasIndustryLabel() bool {
	return strings.TrimSpace(s.IndustryLabel) != ""
}

// SupplierLink is the (id, parent) pair used to walk the hierarchy without
// loading full supplier rows.
type SupplierLink struct {
	ID       uuid.UUID
	ParentID *uuid.UUID
}
