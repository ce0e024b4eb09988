package engine

import (
	"context"
	"fmt"
)

// referencingLimit caps how many tasks one recovery call touches per blob.
const referencingLimit = 1000

// RetryTasksForBlob re-runs every task that consumed or produced the given
// blob, plus the upstream chain that feeds them. Used to recover after a
// stored object was found damaged or deleted: the producers regenerate the
// bytes, then the consumers recompute from them.
func (e *Engine) RetryTasksForBlob(ctx context.Context, hash string) (int, error) {
	tasks, err := e.tasks.ListReferencingBlob(ctx, hash, referencingLimit)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, fmt.Errorf("no tasks reference blob %s", hash)
	}

	// Walk prev edges up to the originating producers so the whole chain
	// recomputes in dependency order.
	visited := make(map[int64]bool)
	var order []int64

	var walk func(id int64) error
	walk = func(id int64) error {
		if visited[id] {
			return nil
		}
		visited[id] = true

		edges, err := e.deps.ListPrev(ctx, id)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if err := walk(edge.Prev); err != nil {
				return err
			}
		}
		// Ancestors first
		order = append(order, id)
		return nil
	}

	for _, task := range tasks {
		if err := walk(task.ID); err != nil {
			return 0, err
		}
	}

	for _, id := range order {
		if err := e.resetTask(ctx, id); err != nil {
			return 0, err
		}
		task, err := e.tasks.GetByID(ctx, id)
		if err != nil {
			return 0, err
		}
		if err := e.enqueueTask(ctx, task); err != nil {
			e.log.Warn("failed to enqueue recovered task, dispatcher will pick it up",
				"task_id", id, "error", err)
		}
	}

	e.log.Info("blob recovery", "blob", hash, "tasks", len(order))
	return len(order), nil
}
