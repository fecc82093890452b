package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/models"
)

// CategoryRepository reads the shared procurement category list.
type CategoryRepository interface {
	List(ctx context.Context) ([]*models.Category, error)
	// GetByCode returns the category, or nil when the code is unknown.
	GetByCode(ctx context.Context, code string) (*models.Category, error)
}

type categoryRepository struct{}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository() CategoryRepository {
	return &categoryRepository{}
}

var _ CategoryRepository = (*categoryRepository)(nil)

func (r *categoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT code, name, parent_code
		FROM scope_categories
		ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]*models.Category, 0)
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.Code, &c.Name, &c.ParentCode); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func (r *categoryRepository) GetByCode(ctx context.Context, code string) (*models.Category, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	var c models.Category
	err := scope.Conn.QueryRow(ctx, `
		SELECT code, name, parent_code
		FROM scope_categories
		WHERE code = $1`, code).Scan(&c.Code, &c.Name, &c.ParentCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}
