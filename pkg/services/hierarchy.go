package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// WouldCreateCycle reports whether making proposedParentID the parent of
// childID would close a loop in the supplier graph. It walks upward from the
// proposed parent; reaching a root or an unknown supplier means no cycle.
// A pre-existing loop that does not include childID also ends the walk.
func WouldCreateCycle(ctx context.Context, lookup repositories.ParentLookup, childID, proposedParentID uuid.UUID) (bool, error) {
	if childID == proposedParentID {
		return true, nil
	}

	visited := make(map[uuid.UUID]bool)
	current := proposedParentID
	for {
		if current == childID {
			return true, nil
		}
		if visited[current] {
			return false, nil
		}
		visited[current] = true

		parentID, found, err := lookup.ParentOf(ctx, current)
		if err != nil {
			return false, err
		}
		if !found || parentID == nil {
			return false, nil
		}
		current = *parentID
	}
}

// guardParent builds the check run under the hierarchy lock before a parent
// link from childID to parentID is written.
func guardParent(childID, parentID uuid.UUID) repositories.HierarchyCheck {
	return func(ctx context.Context, lookup repositories.ParentLookup) error {
		if childID == parentID {
			return apperrors.ErrSelfParent
		}

		_, found, err := lookup.ParentOf(ctx, parentID)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.ErrParentNotFound
		}

		cycle, err := WouldCreateCycle(ctx, lookup, childID, parentID)
		if err != nil {
			return err
		}
		if cycle {
			return apperrors.ErrCycleDetected
		}
		return nil
	}
}

// HierarchyService manages suppliers and their parent links.
type HierarchyService interface {
	// CreateSupplier inserts a supplier, rejecting a parent that is missing or
	// would close a cycle.
	CreateSupplier(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) error

	// SetParent points a supplier at a new parent, or clears it when parentID is nil.
	SetParent(ctx context.Context, ownerID, supplierID uuid.UUID, parentID *uuid.UUID) error

	// GetSupplier returns a supplier or apperrors.ErrNotFound.
	GetSupplier(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, error)
}

type hierarchyService struct {
	supplierRepo repositories.SupplierRepository
	logger       *zap.Logger
}

// NewHierarchyService creates a new HierarchyService.
func NewHierarchyService(supplierRepo repositories.SupplierRepository, logger *zap.Logger) HierarchyService {
	return &hierarchyService{
		supplierRepo: supplierRepo,
		logger:       logger.Named("hierarchy"),
	}
}

var _ HierarchyService = (*hierarchyService)(nil)

func (s *hierarchyService) CreateSupplier(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) error {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return fmt.Errorf("%w: supplier name is required", apperrors.ErrInvalidInput)
	}

	supplier.OwnerID = ownerID
	if supplier.ID == uuid.Nil {
		supplier.ID = uuid.New()
	}

	var check repositories.HierarchyCheck
	if supplier.ParentID != nil {
		check = guardParent(supplier.ID, *supplier.ParentID)
	}

	if err := s.supplierRepo.Create(ctx, supplier, check); err != nil {
		if apperrors.IsStructuralViolation(err) {
			s.logger.Info("Rejected supplier parent",
				zap.String("owner_id", ownerID.String()),
				zap.String("parent_id", supplier.ParentID.String()),
				zap.Error(err))
			return err
		}
		return fmt.Errorf("create supplier: %w", err)
	}
	return nil
}

func (s *hierarchyService) SetParent(ctx context.Context, ownerID, supplierID uuid.UUID, parentID *uuid.UUID) error {
	var check repositories.HierarchyCheck
	if parentID != nil {
		check = guardParent(supplierID, *parentID)
	}

	err := s.supplierRepo.Reparent(ctx, ownerID, supplierID, parentID, check)
	if err == nil {
		return nil
	}
	if apperrors.IsStructuralViolation(err) {
		s.logger.Info("Rejected supplier reparent",
			zap.String("owner_id", ownerID.String()),
			zap.String("supplier_id", supplierID.String()),
			zap.String("parent_id", parentID.String()),
			zap.Error(err))
		return err
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return fmt.Errorf("set supplier parent: %w", err)
}

func (s *hierarchyService) GetSupplier(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, error) {
	supplier, err := s.supplierRepo.GetByID(ctx, ownerID, supplierID)
	if err != nil {
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	if supplier == nil {
		return nil, apperrors.ErrNotFound
	}
	return supplier, nil
}
