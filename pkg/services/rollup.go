package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// RollupService aggregates spend and emissions over supplier subtrees.
type RollupService interface {
	// Rollup sums the root supplier and every descendant. An unknown root
	// yields a zero result rather than an error.
	Rollup(ctx context.Context, ownerID, rootID uuid.UUID) (*models.RollupResult, error)
}

type rollupService struct {
	supplierRepo repositories.SupplierRepository
	spendRepo    repositories.SpendRecordRepository
	logger       *zap.Logger
}

// NewRollupService creates a new RollupService.
func NewRollupService(supplierRepo repositories.SupplierRepository, spendRepo repositories.SpendRecordRepository, logger *zap.Logger) RollupService {
	return &rollupService{
		supplierRepo: supplierRepo,
		spendRepo:    spendRepo,
		logger:       logger.Named("rollup"),
	}
}

var _ RollupService = (*rollupService)(nil)

func (s *rollupService) Rollup(ctx context.Context, ownerID, rootID uuid.UUID) (*models.RollupResult, error) {
	links, err := s.supplierRepo.ListLinks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list supplier links: %w", err)
	}

	result := &models.RollupResult{SupplierID: rootID}

	subtree := SubtreeClosure(links, rootID)
	if len(subtree) == 0 {
		return result, nil
	}

	totals, err := s.spendRepo.SumBySuppliers(ctx, ownerID, subtree)
	if err != nil {
		return nil, fmt.Errorf("sum spend records: %w", err)
	}

	result.SupplierCount = len(subtree)
	result.EmissionTotals = *totals

	s.logger.Debug("Rolled up supplier tree",
		zap.String("owner_id", ownerID.String()),
		zap.String("root_id", rootID.String()),
		zap.Int("suppliers", result.SupplierCount))
	return result, nil
}

// SubtreeClosure returns rootID and every supplier reachable from it through
// child links, each once, in breadth-first order. It returns nil when rootID
// is not among the links. Loops in malformed data are visited once.
func SubtreeClosure(links []models.SupplierLink, rootID uuid.UUID) []uuid.UUID {
	children := make(map[uuid.UUID][]uuid.UUID, len(links))
	known := false
	for _, link := range links {
		if link.ID == rootID {
			known = true
		}
		if link.ParentID != nil {
			children[*link.ParentID] = append(children[*link.ParentID], link.ID)
		}
	}
	if !known {
		return nil
	}

	visited := map[uuid.UUID]bool{rootID: true}
	closure := []uuid.UUID{rootID}
	for i := 0; i < len(closure); i++ {
		for _, child := range children[closure[i]] {
			if visited[child] {
				continue
			}
			visited[child] = true
			closure = append(closure, child)
		}
	}
	return closure
}
