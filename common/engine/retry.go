package engine

import (
	"context"
	"errors"

	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/repository"
)

// resetTask sets a task back to pending under its row lock, clearing the
// recorded outcome. Skips silently when the task is being executed right
// now; the running attempt supersedes the reset.
func (e *Engine) resetTask(ctx context.Context, id int64) error {
	err := e.tasks.WithLock(ctx, id, func(ctx context.Context, task *models.Task) error {
		task.Update(models.StatusPending, "", "", "", task.Version)
		return nil
	})
	if errors.Is(err, repository.ErrTaskLocked) {
		e.log.Debug("task locked, skipping reset", "task_id", id)
		return nil
	}
	return err
}

// RetryOptions tweak a single-task retry.
type RetryOptions struct {
	// Force retries the task even when it finished successfully
	Force bool

	// Foreground executes the task in the calling goroutine instead of
	// queueing it, and returns the handler's failure to the caller
	Foreground bool
}

// RetryTask resets one task to pending and runs it again. A successfully
// completed task is left alone unless forced.
func (e *Engine) RetryTask(ctx context.Context, id int64, opts RetryOptions) error {
	task, err := e.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if task.Status == models.StatusSuccess && !opts.Force {
		e.log.Info("task already succeeded, not retrying", "task", task.String())
		return nil
	}

	if err := e.resetTask(ctx, id); err != nil {
		return err
	}

	if opts.Foreground {
		taskErr, err := e.execute(ctx, id)
		if err != nil {
			return err
		}
		return taskErr
	}
	return e.enqueueTask(ctx, task)
}

// RetryAll resets every task in the given status (optionally narrowed to one
// function) and requeues them. Returns how many tasks were reset.
func (e *Engine) RetryAll(ctx context.Context, status, fn string, limit int) (int, error) {
	if limit <= 0 {
		limit = e.cfg.RetryBatchLimit
	}

	ids, err := e.tasks.ResetForRetry(ctx, status, fn, limit)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		task, err := e.tasks.GetByID(ctx, id)
		if err != nil {
			return 0, err
		}
		if err := e.enqueueTask(ctx, task); err != nil {
			e.log.Warn("failed to enqueue reset task, dispatcher will pick it up",
				"task_id", id, "error", err)
		}
	}

	e.log.Info("bulk retry", "status", status, "func", fn, "count", len(ids))
	return len(ids), nil
}
