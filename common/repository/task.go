package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docpipe/docpipe/common/db"
	"github.com/docpipe/docpipe/common/models"
)

// ErrTaskLocked is returned when another worker holds the row lock for a
// task. Callers treat it as "someone else is already on it" and move on.
var ErrTaskLocked = errors.New("task is locked by another worker")

// pgLockNotAvailable is the Postgres error code raised by FOR UPDATE NOWAIT
// when the row is already locked.
const pgLockNotAvailable = "55P03"

const taskColumns = `id, func, args, blob_arg, result, status, error, broken_reason, log, worker, version, fail_count, date_created, date_modified, date_started, date_finished`

// TaskRepository handles database operations for tasks
type TaskRepository struct {
	db *db.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(database *db.DB) *TaskRepository {
	return &TaskRepository{db: database}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var argsJSON []byte
	err := row.Scan(
		&task.ID,
		&task.Func,
		&argsJSON,
		&task.BlobArg,
		&task.Result,
		&task.Status,
		&task.Error,
		&task.BrokenReason,
		&task.Log,
		&task.Worker,
		&task.Version,
		&task.FailCount,
		&task.DateCreated,
		&task.DateModified,
		&task.DateStarted,
		&task.DateFinished,
	)
	if err != nil {
		return nil, err
	}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &task.Args); err != nil {
			return nil, fmt.Errorf("failed to decode task args: %w", err)
		}
	}
	return task, nil
}

// GetOrCreate inserts a task row for (func, args), or returns the existing
// one. The second return reports whether a new row was created.
func (r *TaskRepository) GetOrCreate(ctx context.Context, task *models.Task) (*models.Task, bool, error) {
	argsJSON, err := task.ArgsJSON()
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO task (func, args, blob_arg, status, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (func, args) DO NOTHING
		RETURNING ` + taskColumns

	created, err := scanTask(r.db.QueryRow(ctx, query, task.Func, argsJSON, task.BlobArg, models.StatusPending, task.Version))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}

	existing, err := r.GetByFuncArgs(ctx, task.Func, argsJSON)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves a task by its ID
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task WHERE id = $1`

	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetByFuncArgs retrieves a task by its (func, args) identity
func (r *TaskRepository) GetByFuncArgs(ctx context.Context, fn string, argsJSON []byte) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task WHERE func = $1 AND args = $2`

	task, err := scanTask(r.db.QueryRow(ctx, query, fn, argsJSON))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s(%s): %w", fn, argsJSON, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func saveTask(ctx context.Context, q execer, task *models.Task) error {
	query := `
		UPDATE task
		SET result = $2, status = $3, error = $4, broken_reason = $5, log = $6,
			worker = $7, version = $8, fail_count = $9,
			date_started = $10, date_finished = $11, date_modified = now()
		WHERE id = $1
	`

	_, err := q.Exec(
		ctx,
		query,
		task.ID,
		task.Result,
		task.Status,
		task.Error,
		task.BrokenReason,
		task.Log,
		task.Worker,
		task.Version,
		task.FailCount,
		task.DateStarted,
		task.DateFinished,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", task.ID, err)
	}
	return nil
}

// Save persists the mutable fields of a task outside of a row lock
func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	return saveTask(ctx, r.db, task)
}

// WithLock runs fn while holding the row lock for the task. The lock is a
// Postgres FOR UPDATE NOWAIT inside a transaction and is held for the whole
// call; the (possibly mutated) task is written back before commit. If the row
// is locked elsewhere, ErrTaskLocked is returned and fn never runs.
func (r *TaskRepository) WithLock(ctx context.Context, id int64, fn func(ctx context.Context, task *models.Task) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + taskColumns + ` FROM task WHERE id = $1 FOR UPDATE NOWAIT`

	task, err := scanTask(tx.QueryRow(ctx, query, id))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return ErrTaskLocked
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to lock task %d: %w", id, err)
	}

	if err := fn(ctx, task); err != nil {
		return err
	}

	if err := saveTask(ctx, tx, task); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit task %d: %w", id, err)
	}
	return nil
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// ListByStatus retrieves tasks in a status, newest-modified first.
// fn narrows to a single function when non-empty.
func (r *TaskRepository) ListByStatus(ctx context.Context, status, fn string, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task
		WHERE status = $1 AND ($2 = '' OR func = $2)
		ORDER BY date_modified DESC
		LIMIT $3
	`
	return r.list(ctx, query, status, fn, limit)
}

// ListOutdated retrieves finished tasks of a function whose recorded version
// is behind the given one
func (r *TaskRepository) ListOutdated(ctx context.Context, fn string, version, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task
		WHERE func = $1 AND version < $2 AND status IN ('success', 'error', 'broken')
		ORDER BY date_modified DESC
		LIMIT $3
	`
	return r.list(ctx, query, fn, version, limit)
}

// ListAgedFailures retrieves error/broken tasks of a function at the current
// version that failed fewer than failLimit times and were last touched before
// the cutoff. Oldest first, so stuck tasks come back in submission order.
func (r *TaskRepository) ListAgedFailures(ctx context.Context, fn string, version, failLimit int, cutoff time.Time, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task
		WHERE func = $1 AND version = $2
			AND status IN ('error', 'broken')
			AND fail_count < $3
			AND date_modified < $4
		ORDER BY date_modified ASC
		LIMIT $5
	`
	return r.list(ctx, query, fn, version, failLimit, cutoff, limit)
}

// ListReferencingBlob retrieves tasks that consumed or produced the blob
func (r *TaskRepository) ListReferencingBlob(ctx context.Context, hash string, limit int) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM task
		WHERE blob_arg = $1 OR result = $1
		ORDER BY id
		LIMIT $2
	`
	return r.list(ctx, query, hash, limit)
}

// ResetForRetry resets a batch of tasks in the given status back to pending,
// clearing outcome fields. Rows locked by running workers are skipped.
// Returns the IDs of the reset tasks so callers can requeue them.
func (r *TaskRepository) ResetForRetry(ctx context.Context, status, fn string, limit int) ([]int64, error) {
	query := `
		UPDATE task
		SET status = 'pending', error = '', broken_reason = '', log = '', date_modified = now()
		WHERE id IN (
			SELECT id FROM task
			WHERE status = $1 AND ($2 = '' OR func = $2)
			ORDER BY date_modified
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`

	rows, err := r.db.Query(ctx, query, status, fn, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reset tasks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reset tasks: %w", err)
	}
	return ids, nil
}
