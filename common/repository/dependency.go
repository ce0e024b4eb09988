package repository

import (
	"context"
	"fmt"

	"github.com/docpipe/docpipe/common/db"
	"github.com/docpipe/docpipe/common/models"
)

const dependencyColumns = `id, prev, next, name`

// DependencyRepository handles database operations for task dependency edges
type DependencyRepository struct {
	db *db.DB
}

// NewDependencyRepository creates a new dependency repository
func NewDependencyRepository(database *db.DB) *DependencyRepository {
	return &DependencyRepository{db: database}
}

// Create inserts a dependency edge. Creating an edge that already exists is
// a no-op, so wiring the same dependency twice stays idempotent.
func (r *DependencyRepository) Create(ctx context.Context, prev, next int64, name string) error {
	query := `
		INSERT INTO task_dependency (prev, next, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (prev, next, name) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, prev, next, name)
	if err != nil {
		return fmt.Errorf("failed to create dependency %d -> %d (%s): %w", prev, next, name, err)
	}
	return nil
}

func (r *DependencyRepository) list(ctx context.Context, query string, arg any) ([]*models.TaskDependency, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*models.TaskDependency
	for rows.Next() {
		dep := &models.TaskDependency{}
		if err := rows.Scan(&dep.ID, &dep.Prev, &dep.Next, &dep.Name); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// ListPrev retrieves the edges a task depends on
func (r *DependencyRepository) ListPrev(ctx context.Context, next int64) ([]*models.TaskDependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM task_dependency WHERE next = $1 ORDER BY id`
	return r.list(ctx, query, next)
}

// ListNext retrieves the edges of tasks waiting on this one
func (r *DependencyRepository) ListNext(ctx context.Context, prev int64) ([]*models.TaskDependency, error) {
	query := `SELECT ` + dependencyColumns + ` FROM task_dependency WHERE prev = $1 ORDER BY id`
	return r.list(ctx, query, prev)
}

// DeleteByName removes a named dependency edge of a task
func (r *DependencyRepository) DeleteByName(ctx context.Context, next int64, name string) error {
	query := `DELETE FROM task_dependency WHERE next = $1 AND name = $2`

	_, err := r.db.Exec(ctx, query, next, name)
	if err != nil {
		return fmt.Errorf("failed to delete dependency %s of task %d: %w", name, next, err)
	}
	return nil
}
