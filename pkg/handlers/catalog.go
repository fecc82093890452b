package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/services"
)

// ============================================================================
// Request Types
// ============================================================================

// CreateEmissionFactorRequest for POST /emission-factors
type CreateEmissionFactorRequest struct {
	Provider        string              `json:"provider"`
	Name            string              `json:"name"`
	Geography       string              `json:"geography,omitempty"`
	Year            int                 `json:"year"`
	Unit            string              `json:"unit"`
	Intensity       decimal.NullDecimal `json:"intensity"`
	Scope1Intensity decimal.NullDecimal `json:"scope1_intensity"`
	Scope2Intensity decimal.NullDecimal `json:"scope2_intensity"`
	Scope3Intensity decimal.NullDecimal `json:"scope3_intensity"`
	ExternalID      string              `json:"external_id,omitempty"`
	SourceURL       string              `json:"source_url,omitempty"`
	Methodology     string              `json:"methodology,omitempty"`
	Version         string              `json:"version"`
}

// CreateCategoryMappingRequest for POST /category-mappings.
// is_active defaults to true.
type CreateCategoryMappingRequest struct {
	CategoryCode     string    `json:"category_code"`
	EmissionFactorID uuid.UUID `json:"emission_factor_id"`
	Confidence       string    `json:"confidence,omitempty"`
	Rationale        string    `json:"rationale,omitempty"`
	IsActive         *bool     `json:"is_active,omitempty"`
}

// CreateSpendRecordRequest for POST /spend-records
type CreateSpendRecordRequest struct {
	SupplierID     uuid.UUID           `json:"supplier_id"`
	CategoryCode   string              `json:"category_code,omitempty"`
	FiscalYear     int                 `json:"fiscal_year"`
	SpendAmount    decimal.NullDecimal `json:"spend_amount"`
	Currency       string              `json:"currency,omitempty"`
	Quantity       decimal.NullDecimal `json:"quantity"`
	QuantityUnit   string              `json:"quantity_unit,omitempty"`
	MaterialType   string              `json:"material_type,omitempty"`
	ManualFactorID *uuid.UUID          `json:"manual_factor_id,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// CatalogHandler handles the data the engine calculates from: categories,
// private emission factors, category mappings and spend records.
type CatalogHandler struct {
	catalog services.CatalogService
	logger  *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(catalog services.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers the catalog handler's routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/owners/{owner_id}"

	mux.HandleFunc("GET "+base+"/categories", tenantMiddleware(h.ListCategories))
	mux.HandleFunc("GET "+base+"/emission-factors", tenantMiddleware(h.ListEmissionFactors))
	mux.HandleFunc("POST "+base+"/emission-factors", tenantMiddleware(h.CreateEmissionFactor))
	mux.HandleFunc("POST "+base+"/category-mappings", tenantMiddleware(h.CreateCategoryMapping))
	mux.HandleFunc("POST "+base+"/spend-records", tenantMiddleware(h.CreateSpendRecord))
}

// ListCategories handles GET /api/owners/{owner_id}/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, err, "list_categories_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: categories}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListEmissionFactors handles GET /api/owners/{owner_id}/emission-factors
func (h *CatalogHandler) ListEmissionFactors(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	factors, err := h.catalog.ListEmissionFactors(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, "list_emission_factors_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: factors}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateEmissionFactor handles POST /api/owners/{owner_id}/emission-factors.
// The factor is private to the owner.
func (h *CatalogHandler) CreateEmissionFactor(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateEmissionFactorRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Intensity.Valid {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "intensity is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	factor := &models.EmissionFactor{
		Provider:        req.Provider,
		Name:            req.Name,
		Geography:       req.Geography,
		Year:            req.Year,
		Unit:            req.Unit,
		Intensity:       req.Intensity.Decimal,
		Scope1Intensity: req.Scope1Intensity,
		Scope2Intensity: req.Scope2Intensity,
		Scope3Intensity: req.Scope3Intensity,
		ExternalID:      req.ExternalID,
		SourceURL:       req.SourceURL,
		Methodology:     req.Methodology,
		Version:         req.Version,
	}

	if err := h.catalog.CreateEmissionFactor(r.Context(), ownerID, factor); err != nil {
		writeServiceError(w, err, "create_emission_factor_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: factor}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateCategoryMapping handles POST /api/owners/{owner_id}/category-mappings
func (h *CatalogHandler) CreateCategoryMapping(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateCategoryMappingRequest
	if !h.decode(w, r, &req) {
		return
	}

	mapping := &models.CategoryFactorMapping{
		CategoryCode:     req.CategoryCode,
		EmissionFactorID: req.EmissionFactorID,
		Confidence:       req.Confidence,
		Rationale:        req.Rationale,
		IsActive:         req.IsActive == nil || *req.IsActive,
	}

	if err := h.catalog.CreateCategoryMapping(r.Context(), ownerID, mapping); err != nil {
		writeServiceError(w, err, "create_category_mapping_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: mapping}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateSpendRecord handles POST /api/owners/{owner_id}/spend-records.
// The record starts pending; a calculation pass settles it.
func (h *CatalogHandler) CreateSpendRecord(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateSpendRecordRequest
	if !h.decode(w, r, &req) {
		return
	}

	record := &models.SpendRecord{
		SupplierID:     req.SupplierID,
		CategoryCode:   req.CategoryCode,
		FiscalYear:     req.FiscalYear,
		SpendAmount:    req.SpendAmount,
		Currency:       req.Currency,
		Quantity:       req.Quantity,
		QuantityUnit:   req.QuantityUnit,
		MaterialType:   req.MaterialType,
		ManualFactorID: req.ManualFactorID,
	}

	if err := h.catalog.CreateSpendRecord(r.Context(), ownerID, record); err != nil {
		writeServiceError(w, err, "create_spend_record_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: record}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *CatalogHandler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}
