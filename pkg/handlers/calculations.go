package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/services"
)

// CalculationHandler triggers emission calculation passes.
type CalculationHandler struct {
	calculator services.EmissionCalculator
	logger     *zap.Logger
}

// NewCalculationHandler creates a new calculation handler.
func NewCalculationHandler(calculator services.EmissionCalculator, logger *zap.Logger) *CalculationHandler {
	return &CalculationHandler{
		calculator: calculator,
		logger:     logger,
	}
}

// RegisterRoutes registers the calculation handler's routes on the given mux.
func (h *CalculationHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("POST /api/owners/{owner_id}/calculations", tenantMiddleware(h.Calculate))
}

// Calculate handles POST /api/owners/{owner_id}/calculations.
// Returns 409 while another pass for the same owner holds the run lock.
func (h *CalculationHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ParseOwnerID(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.calculator.CalculatePending(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err, "calculation_failed", h.logger)
		return
	}

	h.logger.Info("Calculation pass finished",
		zap.String("owner_id", ownerID.String()),
		zap.Int("considered", report.Considered),
		zap.Int("updated", report.Updated),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("skipped", report.TotalSkipped()))

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
