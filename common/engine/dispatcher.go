package engine

import (
	"context"
	"time"

	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/registry"
)

// DispatchStats counts what one dispatch pass did.
type DispatchStats struct {
	Pending  int `json:"pending"`
	Deferred int `json:"deferred"`
	Outdated int `json:"outdated"`
	Retried  int `json:"retried"`
}

// DispatchPending sweeps the task table and re-queues everything that should
// be running but isn't. It is the self-healing half of the scheduler: queue
// messages are allowed to get lost because this pass reconstructs them from
// the durable rows.
//
// Four passes, in order: pending tasks, deferred tasks, version-outdated
// finished tasks, and aged-out failures under the retry limit.
func (e *Engine) DispatchPending(ctx context.Context) (*DispatchStats, error) {
	stats := &DispatchStats{}

	// Higher-priority functions get queue space first
	for _, def := range e.reg.Definitions() {
		n, err := e.dispatchStatus(ctx, def, models.StatusPending)
		if err != nil {
			return stats, err
		}
		stats.Pending += n

		n, err = e.dispatchStatus(ctx, def, models.StatusDeferred)
		if err != nil {
			return stats, err
		}
		stats.Deferred += n
	}

	// Outdated tasks run low-priority-first so upstream producers are
	// refreshed before the tasks consuming them.
	defs := e.reg.Definitions()
	for i := len(defs) - 1; i >= 0; i-- {
		n, err := e.dispatchOutdated(ctx, defs[i])
		if err != nil {
			return stats, err
		}
		stats.Outdated += n
	}

	for _, def := range e.reg.Definitions() {
		n, err := e.dispatchAgedFailures(ctx, def)
		if err != nil {
			return stats, err
		}
		stats.Retried += n
	}

	if stats.Pending+stats.Deferred+stats.Outdated+stats.Retried > 0 {
		e.log.Info("dispatch pass",
			"pending", stats.Pending,
			"deferred", stats.Deferred,
			"outdated", stats.Outdated,
			"retried", stats.Retried)
	}
	return stats, nil
}

// dispatchStatus queues tasks of one function in one status whose
// dependencies allow them to run
func (e *Engine) dispatchStatus(ctx context.Context, def *registry.Definition, status string) (int, error) {
	tasks, err := e.tasks.ListByStatus(ctx, status, def.Name, e.cfg.DispatchQueueLimit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, task := range tasks {
		ready, err := e.canDispatch(ctx, task)
		if err != nil {
			return count, err
		}
		if !ready {
			continue
		}
		if err := e.enqueue(ctx, def, task.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// canDispatch reports whether every dependency of the task is settled. A
// prerequisite in error counts as settled: the executor turns the dependent
// broken with reason dependency_has_error rather than leaving it stuck.
func (e *Engine) canDispatch(ctx context.Context, task *models.Task) (bool, error) {
	edges, err := e.deps.ListPrev(ctx, task.ID)
	if err != nil {
		return false, err
	}

	for _, edge := range edges {
		prev, err := e.tasks.GetByID(ctx, edge.Prev)
		if err != nil {
			return false, err
		}
		if prev.Status == models.StatusError {
			continue
		}
		prevDef, err := e.reg.Lookup(prev.Func)
		if err != nil {
			return false, err
		}
		if !prev.Completed(prevDef.Version) {
			return false, nil
		}
	}
	return true, nil
}

// dispatchOutdated requeues finished tasks whose version is behind the
// registered handler
func (e *Engine) dispatchOutdated(ctx context.Context, def *registry.Definition) (int, error) {
	tasks, err := e.tasks.ListOutdated(ctx, def.Name, def.Version, e.cfg.DispatchQueueLimit)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		e.log.Debug("requeueing outdated task", "task", task.String(), "version", def.Version)
		if err := e.enqueue(ctx, def, task.ID); err != nil {
			return 0, err
		}
	}
	return len(tasks), nil
}

// dispatchAgedFailures retries error and broken tasks that rested long
// enough and haven't hit the fail limit
func (e *Engine) dispatchAgedFailures(ctx context.Context, def *registry.Definition) (int, error) {
	cutoff := time.Now().Add(-e.cfg.RetryAfter)
	tasks, err := e.tasks.ListAgedFailures(ctx, def.Name, def.Version,
		e.cfg.RetryFailLimit, cutoff, e.cfg.RetryBatchLimit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, task := range tasks {
		e.log.Info("retrying aged failure", "task", task.String(), "fail_count", task.FailCount)
		if err := e.RetryTask(ctx, task.ID, RetryOptions{}); err != nil {
			e.log.Warn("failed to retry task", "task_id", task.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}
