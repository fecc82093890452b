package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is a procurement category code. Stored in scope_categories.
type Category struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	ParentCode *string `json:"parent_code,omitempty"`
}

// Mapping confidence levels
const (
	MappingConfidenceHigh   = "high"
	MappingConfidenceMedium = "medium"
	MappingConfidenceLow    = "low"
)

// NormalizeMappingConfidence lower-cases a confidence level. ok is false for
// anything other than a known level or blank.
func NormalizeMappingConfidence(confidence string) (string, bool) {
	c := strings.ToLower(strings.TrimSpace(confidence))
	switch c {
	case "", MappingConfidenceHigh, MappingConfidenceMedium, MappingConfidenceLow:
		return c, true
	default:
		return "", false
	}
}

// CategoryFactorMapping binds a category code to a fallback emission factor.
// Only active mappings participate in resolution; the most recently created
// active mapping is authoritative for its category.
// Stored in scope_category_factor_mappings.
type CategoryFactorMapping struct {
	ID               uuid.UUID  `json:"id"`
	OwnerID          *uuid.UUID `json:"owner_id,omitempty"`
	CategoryCode     string     `json:"category_code"`
	EmissionFactorID uuid.UUID  `json:"emission_factor_id"`
	Confidence       string     `json:"confidence,omitempty"`
	Rationale        string     `json:"rationale,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
}
