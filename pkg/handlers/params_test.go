package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestParseOwnerAndSupplierIDs(t *testing.T) {
	logger := zap.NewNop()
	validOwner := "550e8400-e29b-41d4-a716-446655440000"
	validSupplier := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	tests := []struct {
		name       string
		ownerID    string
		supplierID string
		wantOK     bool
		wantError  string
	}{
		{
			name:       "both valid",
			ownerID:    validOwner,
			supplierID: validSupplier,
			wantOK:     true,
		},
		{
			name:       "invalid owner",
			ownerID:    "not-a-uuid",
			supplierID: validSupplier,
			wantError:  "invalid_owner_id",
		},
		{
			name:       "empty owner",
			ownerID:    "",
			supplierID: validSupplier,
			wantError:  "invalid_owner_id",
		},
		{
			name:       "invalid supplier",
			ownerID:    validOwner,
			supplierID: "42",
			wantError:  "invalid_supplier_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue("owner_id", tt.ownerID)
			req.SetPathValue("supplier_id", tt.supplierID)
			rec := httptest.NewRecorder()

			ownerID, supplierID, ok := ParseOwnerAndSupplierIDs(rec, req, logger)

			if ok != tt.wantOK {
				t.Fatalf("ParseOwnerAndSupplierIDs() ok = %v, want %v", ok, tt.wantOK)
			}

			if tt.wantOK {
				if ownerID.String() != tt.ownerID || supplierID.String() != tt.supplierID {
					t.Errorf("ParseOwnerAndSupplierIDs() = %v, %v", ownerID, supplierID)
				}
				return
			}

			if ownerID != uuid.Nil || supplierID != uuid.Nil {
				t.Errorf("expected nil IDs on failure, got %v, %v", ownerID, supplierID)
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %v, want %v", rec.Code, http.StatusBadRequest)
			}

			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != tt.wantError {
				t.Errorf("error = %v, want %v", resp["error"], tt.wantError)
			}
		})
	}
}
