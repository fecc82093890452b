package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/models"
)

// SettleResult counts the outcome of a settlement batch.
type SettleResult struct {
	// Updated is the number of records settled by this batch.
	Updated int
	// ConflictIDs lists records that were already settled by another pass.
	ConflictIDs []uuid.UUID
}

// SpendRecordRepository provides data access for spend records.
type SpendRecordRepository interface {
	// Create inserts a pending record. Calculation fields are never written here.
	Create(ctx context.Context, record *models.SpendRecord) error
	// ListPending returns the owner's records that have no calculated CO2e yet.
	ListPending(ctx context.Context, ownerID uuid.UUID) ([]*models.SpendRecord, error)
	// SettleBatch writes all settlements in one transaction. Each update only
	// applies while the record is still unsettled.
	SettleBatch(ctx context.Context, ownerID uuid.UUID, settlements []models.Settlement) (*SettleResult, error)
	// SumBySuppliers totals spend and emissions over the given suppliers' records.
	SumBySuppliers(ctx context.Context, ownerID uuid.UUID, supplierIDs []uuid.UUID) (*models.EmissionTotals, error)
}

type spendRecordRepository struct{}

// NewSpendRecordRepository creates a new SpendRecordRepository.
func NewSpendRecordRepository() SpendRecordRepository {
	return &spendRecordRepository{}
}

var _ SpendRecordRepository = (*spendRecordRepository)(nil)

func (r *spendRecordRepository) Create(ctx context.Context, record *models.SpendRecord) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO scope_spend_records (
			id, owner_id, supplier_id, category_code, fiscal_year,
			spend_amount, currency, quantity, quantity_unit, material_type,
			manual_factor_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		record.ID,
		record.OwnerID,
		record.SupplierID,
		nullString(record.CategoryCode),
		record.FiscalYear,
		record.SpendAmount,
		nullString(record.Currency),
		record.Quantity,
		nullString(record.QuantityUnit),
		nullString(record.MaterialType),
		record.ManualFactorID,
	).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create spend record: %w", err)
	}
	return nil
}

func (r *spendRecordRepository) ListPending(ctx context.Context, ownerID uuid.UUID) ([]*models.SpendRecord, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT id, owner_id, supplier_id, category_code, fiscal_year,
		       spend_amount, currency, quantity, quantity_unit, material_type,
		       manual_factor_id, created_at
		FROM scope_spend_records
		WHERE owner_id = $1 AND calculated_co2e IS NULL
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending spend records: %w", err)
	}
	defer rows.Close()

	var records []*models.SpendRecord
	for rows.Next() {
		var rec models.SpendRecord
		var categoryCode, currency, quantityUnit, materialType *string
		err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&rec.SupplierID,
			&categoryCode,
			&rec.FiscalYear,
			&rec.SpendAmount,
			&currency,
			&rec.Quantity,
			&quantityUnit,
			&materialType,
			&rec.ManualFactorID,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan spend record: %w", err)
		}
		rec.CategoryCode = stringValue(categoryCode)
		rec.Currency = stringValue(currency)
		rec.QuantityUnit = stringValue(quantityUnit)
		rec.MaterialType = stringValue(materialType)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spend records: %w", err)
	}
	return records, nil
}

func (r *spendRecordRepository) SettleBatch(ctx context.Context, ownerID uuid.UUID, settlements []models.Settlement) (result *SettleResult, err error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	result = &SettleResult{}
	if len(settlements) == 0 {
		return result, nil
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	update := `
		UPDATE scope_spend_records
		SET calculated_co2e = $3,
		    scope1_co2e = $4,
		    scope2_co2e = $5,
		    scope3_co2e = $6,
		    factor_used_id = $7,
		    calculated_at = $8,
		    calculation_method = $9
		WHERE owner_id = $1 AND id = $2 AND calculated_co2e IS NULL`

	batch := &pgx.Batch{}
	for _, s := range settlements {
		batch.Queue(update,
			ownerID,
			s.RecordID,
			s.CO2e,
			s.ScopeCO2e[0],
			s.ScopeCO2e[1],
			s.ScopeCO2e[2],
			s.FactorUsedID,
			s.CalculatedAt,
			string(s.Method),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for _, s := range settlements {
		tag, execErr := br.Exec()
		if execErr != nil {
			_ = br.Close()
			err = fmt.Errorf("failed to settle spend record: %w", execErr)
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			result.ConflictIDs = append(result.ConflictIDs, s.RecordID)
		} else {
			result.Updated++
		}
	}
	if err = br.Close(); err != nil {
		return nil, fmt.Errorf("failed to close settlement batch: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (r *spendRecordRepository) SumBySuppliers(ctx context.Context, ownerID uuid.UUID, supplierIDs []uuid.UUID) (*models.EmissionTotals, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	totals := &models.EmissionTotals{}
	if len(supplierIDs) == 0 {
		return totals, nil
	}

	query := `
		SELECT COALESCE(SUM(spend_amount), 0),
		       COALESCE(SUM(calculated_co2e), 0),
		       COALESCE(SUM(scope1_co2e), 0),
		       COALESCE(SUM(scope2_co2e), 0),
		       COALESCE(SUM(scope3_co2e), 0),
		       COUNT(calculated_co2e),
		       COUNT(*) - COUNT(calculated_co2e)
		FROM scope_spend_records
		WHERE owner_id = $1 AND supplier_id = ANY($2)`

	err := scope.Conn.QueryRow(ctx, query, ownerID, supplierIDs).Scan(
		&totals.TotalSpend,
		&totals.TotalEmissions,
		&totals.ScopeEmissions[0],
		&totals.ScopeEmissions[1],
		&totals.ScopeEmissions[2],
		&totals.SettledRecords,
		&totals.PendingRecords,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return totals, nil
		}
		return nil, fmt.Errorf("failed to sum spend records: %w", err)
	}
	return totals, nil
}
