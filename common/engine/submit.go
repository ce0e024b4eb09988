package engine

import (
	"context"

	"github.com/docpipe/docpipe/common/models"
)

// Edge names a dependency to wire at submission time.
type Edge struct {
	Name string
	Prev int64
}

type submitOptions struct {
	dependsOn []Edge
	retry     bool
	noQueue   bool
}

// SubmitOption tweaks a Laterz submission.
type SubmitOption func(*submitOptions)

// DependsOn wires a named dependency edge from an existing task
func DependsOn(name string, prev int64) SubmitOption {
	return func(o *submitOptions) {
		o.dependsOn = append(o.dependsOn, Edge{Name: name, Prev: prev})
	}
}

// Retry resets an already finished task back to pending so it runs again
func Retry() SubmitOption {
	return func(o *submitOptions) {
		o.retry = true
	}
}

// NoQueue records the task without enqueueing it; the dispatcher picks it
// up on its next pass
func NoQueue() SubmitOption {
	return func(o *submitOptions) {
		o.noQueue = true
	}
}

// Laterz schedules the application of a registered function to an argument
// list. Submitting the same (func, args) pair any number of times converges
// on one task row; a finished task is returned unchanged unless Retry is
// given.
func (e *Engine) Laterz(ctx context.Context, fn string, args []any, opts ...SubmitOption) (*models.Task, error) {
	def, err := e.reg.Lookup(fn)
	if err != nil {
		return nil, err
	}

	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	task := &models.Task{
		Func:    fn,
		Args:    args,
		Version: def.Version,
	}

	// A leading blob-hash argument is lifted into the indexed blob_arg
	// column; most tasks take exactly one blob as input.
	if len(args) > 0 {
		if hash, ok := args[0].(string); ok && hash != "" {
			known, err := e.blobs.Exists(ctx, hash)
			if err != nil {
				return nil, err
			}
			if known {
				task.BlobArg = &hash
			}
		}
	}

	task, created, err := e.tasks.GetOrCreate(ctx, task)
	if err != nil {
		return nil, err
	}
	if created {
		e.log.Debug("created task", "task", task.String())
	}

	for _, edge := range o.dependsOn {
		if err := e.deps.Create(ctx, edge.Prev, task.ID, edge.Name); err != nil {
			return nil, err
		}
	}

	if task.Completed(def.Version) {
		if !o.retry {
			return task, nil
		}
		if err := e.resetTask(ctx, task.ID); err != nil {
			return nil, err
		}
		task.Status = models.StatusPending
	}

	if !o.noQueue {
		// A lost enqueue is not fatal: the row is durable and the
		// dispatcher re-enqueues pending tasks on its next pass.
		if err := e.enqueue(ctx, def, task.ID); err != nil {
			e.log.Warn("failed to enqueue task, dispatcher will pick it up",
				"task", task.String(), "error", err)
		}
	}

	return task, nil
}
