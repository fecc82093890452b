package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/services"
)

// TenantMiddleware is a function that wraps a handler with an owner-scoped connection.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateSupplierRequest for POST /suppliers
type CreateSupplierRequest struct {
	Name          string     `json:"name"`
	Domain        string     `json:"domain,omitempty"`
	IndustryLabel string     `json:"industry_label,omitempty"`
	Region        string     `json:"region,omitempty"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
}

// SetParentRequest for PUT /suppliers/{supplier_id}/parent.
// A null parent_id detaches the supplier.
type SetParentRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

// ResolveSupplierResponse for POST /suppliers/{supplier_id}/resolve
type ResolveSupplierResponse struct {
	Resolved bool                   `json:"resolved"`
	Supplier *models.Supplier       `json:"supplier"`
	Factor   *models.EmissionFactor `json:"factor,omitempty"`
}

// ============================================================================
// Handler
// ============================================================================

// SupplierHandler handles supplier hierarchy, factor resolution and rollup requests.
type SupplierHandler struct {
	hierarchy services.HierarchyService
	resolver  services.FactorResolver
	rollup    services.RollupService
	logger    *zap.Logger
}

// NewSupplierHandler creates a new supplier handler.
func NewSupplierHandler(
	hierarchy services.HierarchyService,
	resolver services.FactorResolver,
	rollup services.RollupService,
	logger *zap.Logger,
) *SupplierHandler {
	return &SupplierHandler{
		hierarchy: hierarchy,
		resolver:  resolver,
		rollup:    rollup,
		logger:    logger,
	}
}

// RegisterRoutes registers the supplier handler's routes on the given mux.
func (h *SupplierHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/owners/{owner_id}/suppliers"

	mux.HandleFunc("POST "+base, tenantMiddleware(h.Create))
	mux.HandleFunc("POST "+base+"/resolve", tenantMiddleware(h.ResolveAll))
	mux.HandleFunc("GET "+base+"/{supplier_id}", tenantMiddleware(h.Get))
	mux.HandleFunc("PUT "+base+"/{supplier_id}/parent", tenantMiddleware(h.SetParent))
	mux.HandleFunc("POST "+base+"/{supplier_id}/resolve", tenantMiddleware(h.Resolve))
	mux.HandleFunc("GET "+base+"/{supplier_id}/rollup", tenantMiddleware(h.Rollup))
}

// Create handles POST /api/owners/{owner_id}/suppliers
func (h *SupplierHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateSupplierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	supplier := &models.Supplier{
		Name:          req.Name,
		Domain:        req.Domain,
		IndustryLabel: req.IndustryLabel,
		Region:        req.Region,
		ParentID:      req.ParentID,
	}

	if err := h.hierarchy.CreateSupplier(r.Context(), ownerID, supplier); err != nil {
		writeServiceError(w, err, "create_supplier_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: supplier}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/owners/{owner_id}/suppliers/{supplier_id}
func (h *SupplierHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, supplierID, ok := ParseOwnerAndSupplierIDs(w, r, h.logger)
	if !ok {
		return
	}

	supplier, err := h.hierarchy.GetSupplier(r.Context(), ownerID, supplierID)
	if err != nil {
		writeServiceError(w, err, "get_supplier_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: supplier}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetParent handles PUT /api/owners/{owner_id}/suppliers/{supplier_id}/parent
func (h *SupplierHandler) SetParent(w http.ResponseWriter, r *http.Request) {
	ownerID, supplierID, ok := ParseOwnerAndSupplierIDs(w, r, h.logger)
	if !ok {
		return
	}

	var req SetParentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.hierarchy.SetParent(r.Context(), ownerID, supplierID, req.ParentID); err != nil {
		writeServiceError(w, err, "set_parent_failed", h.logger)
		return
	}

	supplier, err := h.hierarchy.GetSupplier(r.Context(), ownerID, supplierID)
	if err != nil {
		writeServiceError(w, err, "get_supplier_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: supplier}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Resolve handles POST /api/owners/{owner_id}/suppliers/{supplier_id}/resolve.
// A supplier with no matching factor is not an error: the response carries resolved=false.
func (h *SupplierHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ownerID, supplierID, ok := ParseOwnerAndSupplierIDs(w, r, h.logger)
	if !ok {
		return
	}

	supplier, factor, err := h.resolver.ResolveByID(r.Context(), ownerID, supplierID)
	if err != nil {
		writeServiceError(w, err, "resolve_supplier_failed", h.logger)
		return
	}

	response := ResolveSupplierResponse{
		Resolved: factor != nil,
		Supplier: supplier,
		Factor:   factor,
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ResolveAll handles POST /api/owners/{owner_id}/suppliers/resolve
func (h *SupplierHandler) ResolveAll(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	summary, err := h.resolver.ResolveAll(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, "resolve_suppliers_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: summary}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Rollup handles GET /api/owners/{owner_id}/suppliers/{supplier_id}/rollup
func (h *SupplierHandler) Rollup(w http.ResponseWriter, r *http.Request) {
	ownerID, supplierID, ok := ParseOwnerAndSupplierIDs(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.rollup.Rollup(r.Context(), ownerID, supplierID)
	if err != nil {
		writeServiceError(w, err, "rollup_failed", h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
