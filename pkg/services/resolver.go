package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// FactorResolver binds suppliers to the most authoritative emission factor available.
type FactorResolver interface {
	// Resolve runs the strategy chain for one supplier. On success the factor
	// is persisted on the supplier; on a miss it returns nil, nil and the
	// supplier is left untouched.
	Resolve(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error)

	// ResolveByID loads the supplier and resolves it. Missing suppliers yield apperrors.ErrNotFound.
	ResolveByID(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, *models.EmissionFactor, error)

	// ResolveAll resolves every supplier of the owner that carries an industry label.
	ResolveAll(ctx context.Context, ownerID uuid.UUID) (*models.ResolutionSummary, error)
}

type factorResolver struct {
	strategies   []ResolutionStrategy
	supplierRepo repositories.SupplierRepository
	ownerCtx     OwnerContextFunc
	concurrency  int
	now          func() time.Time
	logger       *zap.Logger
}

// NewFactorResolver creates a FactorResolver over an ordered strategy chain.
// ownerCtx provides each ResolveAll worker with its own connection.
func NewFactorResolver(
	strategies []ResolutionStrategy,
	supplierRepo repositories.SupplierRepository,
	ownerCtx OwnerContextFunc,
	concurrency int,
	logger *zap.Logger,
) FactorResolver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &factorResolver{
		strategies:   strategies,
		supplierRepo: supplierRepo,
		ownerCtx:     ownerCtx,
		concurrency:  concurrency,
		now:          time.Now,
		logger:       logger.Named("resolver"),
	}
}

var _ FactorResolver = (*factorResolver)(nil)

func (r *factorResolver) Resolve(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error) {
	for _, strategy := range r.strategies {
		factor, err := strategy.TryResolve(ctx, ownerID, supplier)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strategy.Name(), err)
		}
		if factor == nil {
			continue
		}

		lockedAt := r.now().UTC()
		if err := r.supplierRepo.SetResolvedFactor(ctx, ownerID, supplier.ID, factor.ID, lockedAt); err != nil {
			return nil, fmt.Errorf("bind factor to supplier: %w", err)
		}
		supplier.ResolvedFactorID = &factor.ID
		supplier.FactorLockedAt = &lockedAt

		r.logger.Debug("Resolved emission factor",
			zap.String("supplier_id", supplier.ID.String()),
			zap.String("factor_id", factor.ID.String()),
			zap.String("strategy", strategy.Name()))
		return factor, nil
	}

	r.logger.Info("No emission factor resolved for supplier",
		zap.String("owner_id", ownerID.String()),
		zap.String("supplier_id", supplier.ID.String()),
		zap.String("industry_label", supplier.IndustryLabel))
	return nil, nil
}

func (r *factorResolver) ResolveByID(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, *models.EmissionFactor, error) {
	supplier, err := r.supplierRepo.GetByID(ctx, ownerID, supplierID)
	if err != nil {
		return nil, nil, fmt.Errorf("get supplier: %w", err)
	}
	if supplier == nil {
		return nil, nil, apperrors.ErrNotFound
	}

	factor, err := r.Resolve(ctx, ownerID, supplier)
	if err != nil {
		return nil, nil, err
	}
	return supplier, factor, nil
}

func (r *factorResolver) ResolveAll(ctx context.Context, ownerID uuid.UUID) (*models.ResolutionSummary, error) {
	suppliers, err := r.supplierRepo.ListWithIndustry(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}

	summary := &models.ResolutionSummary{Attempted: len(suppliers)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, supplier := range suppliers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			factor, err := r.resolveScoped(gctx, ownerID, supplier)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				summary.Failed++
				r.logger.Error("Failed to resolve supplier",
					zap.String("owner_id", ownerID.String()),
					zap.String("supplier_id", supplier.ID.String()),
					zap.Error(err))
			case factor == nil:
				summary.Unresolved++
			default:
				summary.Resolved++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("Resolved suppliers",
		zap.String("owner_id", ownerID.String()),
		zap.Int("attempted", summary.Attempted),
		zap.Int("resolved", summary.Resolved),
		zap.Int("unresolved", summary.Unresolved),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// resolveScoped resolves one supplier on its own owner-scoped connection.
func (r *factorResolver) resolveScoped(ctx context.Context, ownerID uuid.UUID, supplier *models.Supplier) (*models.EmissionFactor, error) {
	scopedCtx, cleanup, err := r.ownerCtx(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire owner connection: %w", err)
	}
	defer cleanup()

	return r.Resolve(scopedCtx, ownerID, supplier)
}
