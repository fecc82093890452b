package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scopeops/scopeops-engine/pkg/apperrors"
	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/models"
)

// ParentLookup answers "who is the parent of this supplier" for a single owner.
// found is false when the supplier does not exist.
type ParentLookup interface {
	ParentOf(ctx context.Context, supplierID uuid.UUID) (parentID *uuid.UUID, found bool, err error)
}

// HierarchyCheck validates a structural change against the supplier graph as
// seen from inside the writing transaction. A non-nil error aborts the write.
type HierarchyCheck func(ctx context.Context, lookup ParentLookup) error

// SupplierRepository provides data access for suppliers and their hierarchy.
type SupplierRepository interface {
	// Create inserts a supplier. When check is non-nil it runs inside the
	// insert transaction while the owner's hierarchy lock is held.
	Create(ctx context.Context, supplier *models.Supplier, check HierarchyCheck) error
	GetByID(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, error)
	ListWithIndustry(ctx context.Context, ownerID uuid.UUID) ([]*models.Supplier, error)
	ListLinks(ctx context.Context, ownerID uuid.UUID) ([]models.SupplierLink, error)
	// Reparent sets or clears the parent of a supplier. check runs under the
	// owner's hierarchy lock before the update.
	Reparent(ctx context.Context, ownerID, supplierID uuid.UUID, parentID *uuid.UUID, check HierarchyCheck) error
	SetResolvedFactor(ctx context.Context, ownerID, supplierID, factorID uuid.UUID, lockedAt time.Time) error
}

type supplierRepository struct{}

// NewSupplierRepository creates a new SupplierRepository.
func NewSupplierRepository() SupplierRepository {
	return &supplierRepository{}
}

var _ SupplierRepository = (*supplierRepository)(nil)

const supplierColumns = `
	id, owner_id, name, domain, industry_label, region,
	resolved_factor_id, factor_locked_at, parent_id, created_at, updated_at`

func (r *supplierRepository) Create(ctx context.Context, supplier *models.Supplier, check HierarchyCheck) (err error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if supplier.ID == uuid.Nil {
		supplier.ID = uuid.New()
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if check != nil {
		if err = lockHierarchy(ctx, tx, supplier.OwnerID); err != nil {
			return err
		}
		if err = check(ctx, &txParentLookup{tx: tx, ownerID: supplier.OwnerID}); err != nil {
			return err
		}
	}

	now := time.Now()
	query := `
		INSERT INTO scope_suppliers (
			id, owner_id, name, domain, industry_label, region, parent_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		supplier.ID,
		supplier.OwnerID,
		supplier.Name,
		nullString(supplier.Domain),
		nullString(supplier.IndustryLabel),
		nullString(supplier.Region),
		supplier.ParentID,
		now,
		now,
	).Scan(&supplier.CreatedAt, &supplier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create supplier: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *supplierRepository) GetByID(ctx context.Context, ownerID, supplierID uuid.UUID) (*models.Supplier, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + supplierColumns + `
		FROM scope_suppliers
		WHERE owner_id = $1 AND id = $2`

	supplier, err := scanSupplier(scope.Conn.QueryRow(ctx, query, ownerID, supplierID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return supplier, nil
}

func (r *supplierRepository) ListWithIndustry(ctx context.Context, ownerID uuid.UUID) ([]*models.Supplier, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + supplierColumns + `
		FROM scope_suppliers
		WHERE owner_id = $1 AND COALESCE(btrim(industry_label), '') <> ''
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []*models.Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suppliers: %w", err)
	}
	return suppliers, nil
}

func (r *supplierRepository) ListLinks(ctx context.Context, ownerID uuid.UUID) ([]models.SupplierLink, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT id, parent_id FROM scope_suppliers WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplier links: %w", err)
	}
	defer rows.Close()

	var links []models.SupplierLink
	for rows.Next() {
		var link models.SupplierLink
		if err := rows.Scan(&link.ID, &link.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan supplier link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating supplier links: %w", err)
	}
	return links, nil
}

func (r *supplierRepository) Reparent(ctx context.Context, ownerID, supplierID uuid.UUID, parentID *uuid.UUID, check HierarchyCheck) (err error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockHierarchy(ctx, tx, ownerID); err != nil {
		return err
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM scope_suppliers WHERE owner_id = $1 AND id = $2)`,
		ownerID, supplierID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check supplier: %w", err)
	}
	if !exists {
		err = apperrors.ErrNotFound
		return err
	}

	if check != nil {
		if err = check(ctx, &txParentLookup{tx: tx, ownerID: ownerID}); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE scope_suppliers
		SET parent_id = $3, updated_at = NOW()
		WHERE owner_id = $1 AND id = $2`,
		ownerID, supplierID, parentID)
	if err != nil {
		return fmt.Errorf("failed to update supplier parent: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *supplierRepository) SetResolvedFactor(ctx context.Context, ownerID, supplierID, factorID uuid.UUID, lockedAt time.Time) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE scope_suppliers
		SET resolved_factor_id = $3, factor_locked_at = $4, updated_at = NOW()
		WHERE owner_id = $1 AND id = $2`,
		ownerID, supplierID, factorID, lockedAt)
	if err != nil {
		return fmt.Errorf("failed to set resolved factor: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// lockHierarchy serializes structural changes to one owner's supplier graph
// until the transaction ends.
func lockHierarchy(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('supplier_hierarchy:' || $1, 0))`,
		ownerID.String())
	if err != nil {
		return fmt.Errorf("failed to lock supplier hierarchy: %w", err)
	}
	return nil
}

type txParentLookup struct {
	tx      pgx.Tx
	ownerID uuid.UUID
}

func (l *txParentLookup) ParentOf(ctx context.Context, supplierID uuid.UUID) (*uuid.UUID, bool, error) {
	var parentID *uuid.UUID
	err := l.tx.QueryRow(ctx,
		`SELECT parent_id FROM scope_suppliers WHERE owner_id = $1 AND id = $2`,
		l.ownerID, supplierID).Scan(&parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to look up supplier parent: %w", err)
	}
	return parentID, true, nil
}

func scanSupplier(row pgx.Row) (*models.Supplier, error) {
	var s models.Supplier
	var domain, industryLabel, region *string

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.Name,
		&domain,
		&industryLabel,
		&region,
		&s.ResolvedFactorID,
		&s.FactorLockedAt,
		&s.ParentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan supplier: %w", err)
	}

	s.Domain = stringValue(domain)
	s.IndustryLabel = stringValue(industryLabel)
	s.Region = stringValue(region)
	return &s, nil
}
