package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/registry"
	"github.com/docpipe/docpipe/common/repository"
)

// followup is deferred work performed after the task's row lock is released:
// queueing dependents, resetting them, submitting prerequisites.
type followup func(ctx context.Context) error

// ExecuteTask runs one task by ID. Delivery is at-least-once, so every exit
// is safe to repeat: a task already completed at the current version is a
// no-op, and a task locked by another worker is skipped. The returned error
// covers infrastructure problems only; handler failures are recorded on the
// task row.
func (e *Engine) ExecuteTask(ctx context.Context, id int64) error {
	_, err := e.execute(ctx, id)
	return err
}

// execute runs the task and also returns the handler's failure, for
// foreground retries that propagate it to the caller.
func (e *Engine) execute(ctx context.Context, id int64) (error, error) {
	var taskErr error
	var followups []followup

	err := e.tasks.WithLock(ctx, id, func(ctx context.Context, task *models.Task) error {
		var err error
		followups, taskErr, err = e.executeLocked(ctx, task)
		return err
	})
	if errors.Is(err, repository.ErrTaskLocked) {
		e.log.Debug("task locked by another worker, skipping", "task_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, f := range followups {
		if ferr := f(ctx); ferr != nil {
			e.log.Warn("task followup failed", "task_id", id, "error", ferr)
		}
	}
	return taskErr, nil
}

func (e *Engine) executeLocked(ctx context.Context, task *models.Task) ([]followup, error, error) {
	log := e.log.WithTaskID(task.ID)

	def, err := e.reg.Lookup(task.Func)
	if err != nil {
		// Configuration fault: this worker must not guess at semantics
		// of a function it doesn't know.
		return nil, nil, err
	}

	if task.Completed(def.Version) {
		log.Debug("task already completed", "task", task.String())
		return e.queueNextTasks(ctx, task, false), nil, nil
	}

	deps := registry.Deps{}
	edges, err := e.deps.ListPrev(ctx, task.ID)
	if err != nil {
		return nil, nil, err
	}

	for _, edge := range edges {
		prev, err := e.tasks.GetByID(ctx, edge.Prev)
		if err != nil {
			return nil, nil, err
		}
		prevDef, err := e.reg.Lookup(prev.Func)
		if err != nil {
			return nil, nil, err
		}

		if prev.Status == models.StatusError {
			log.Info("dependency in error state", "task", task.String(), "dependency", prev.String())
			task.Update(models.StatusBroken, "", registry.ReasonDependencyHasError, "", def.Version)
			e.finish(task)
			return e.queueNextTasks(ctx, task, true), nil, nil
		}

		if !prev.Completed(prevDef.Version) {
			// Not ready yet. Step aside and make sure the
			// prerequisite is queued, it wakes us when done.
			log.Info("dependency not ready, deferring", "task", task.String(), "dependency", prev.String())
			task.Update(models.StatusDeferred, "", "", "", def.Version)
			prevTask := prev
			return []followup{func(ctx context.Context) error {
				return e.enqueueTask(ctx, prevTask)
			}}, nil, nil
		}

		switch prev.Status {
		case models.StatusBroken:
			deps[edge.Name] = registry.Result{Broken: registry.Broken(prev.BrokenReason, nil)}
		case models.StatusSuccess:
			var res registry.Result
			if prev.Result != nil {
				blob, err := e.blobs.GetByHash(ctx, *prev.Result)
				if err != nil {
					return nil, nil, err
				}
				res.Blob = blob
			}
			deps[edge.Name] = res
		default:
			return nil, nil, fmt.Errorf("unexpected status %s for completed task %d", prev.Status, prev.ID)
		}
	}

	started := time.Now()
	task.DateStarted = &started
	task.DateFinished = nil
	task.Worker = e.cfg.Worker

	call := &registry.Call{Task: task, Args: task.Args, Deps: deps}
	log.Debug("running task", "task", task.String())
	result, runErr := runHandler(ctx, def, call)

	e.finish(task)
	elapsed := time.Since(started)

	switch outcome := classify(runErr); outcome.kind {
	case outcomeSuccess:
		if result != nil {
			task.Result = &result.SHA3_256
		}
		task.Update(models.StatusSuccess, "", "", call.LogText(), def.Version)
		log.Info("task succeeded", "task", task.String(), "duration", elapsed)
		return e.queueNextTasks(ctx, task, true), nil, nil

	case outcomeBroken:
		task.Update(models.StatusBroken, runErr.Error(), outcome.broken.Reason, call.LogText(), def.Version)
		log.Warn("task broken", "task", task.String(), "reason", outcome.broken.Reason, "duration", elapsed)
		return e.queueNextTasks(ctx, task, true), runErr, nil

	case outcomeMissingDependency:
		missing := outcome.missing
		log.Info("task requests extra dependency", "task", task.String(), "dependency", missing.Name)
		prereq, err := e.Laterz(ctx, missing.Func, missing.Args)
		if err != nil {
			return nil, nil, err
		}
		if err := e.deps.Create(ctx, prereq.ID, task.ID, missing.Name); err != nil {
			return nil, nil, err
		}
		task.Update(models.StatusDeferred, "", "", call.LogText(), def.Version)
		self := task.ID
		return []followup{func(ctx context.Context) error {
			return e.enqueue(ctx, def, self)
		}}, nil, nil

	case outcomeExtraDependency:
		log.Info("task requests dependency removal", "task", task.String(), "dependency", outcome.extra.Name)
		if err := e.deps.DeleteByName(ctx, task.ID, outcome.extra.Name); err != nil {
			return nil, nil, err
		}
		task.Update(models.StatusPending, "", "", call.LogText(), def.Version)
		self := task.ID
		return []followup{func(ctx context.Context) error {
			return e.enqueue(ctx, def, self)
		}}, nil, nil

	case outcomeInterrupted:
		// The process is shutting down or the attempt timed out. Back
		// to pending without burning a failure, the dispatcher picks
		// it up again.
		task.Update(models.StatusPending, runErr.Error(), "", call.LogText(), task.Version)
		log.Warn("task interrupted", "task", task.String(), "error", runErr)
		return nil, runErr, nil

	default:
		task.Update(models.StatusError, runErr.Error(), "", call.LogText(), def.Version)
		log.Error("task failed", "task", task.String(), "error", runErr, "duration", elapsed)
		return nil, runErr, nil
	}
}

// runHandler invokes the handler, turning a panic into a plain error so one
// bad document can't take the worker down.
func runHandler(ctx context.Context, def *registry.Definition, call *registry.Call) (result *models.Blob, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return def.Handler(ctx, call)
}

func (e *Engine) finish(task *models.Task) {
	now := time.Now()
	task.DateFinished = &now
}

const (
	outcomeSuccess = iota
	outcomeBroken
	outcomeMissingDependency
	outcomeExtraDependency
	outcomeInterrupted
	outcomeError
)

type outcome struct {
	kind    int
	broken  *registry.BrokenError
	missing *registry.MissingDependencyError
	extra   *registry.ExtraDependencyError
}

func classify(err error) outcome {
	if err == nil {
		return outcome{kind: outcomeSuccess}
	}
	var broken *registry.BrokenError
	if errors.As(err, &broken) {
		return outcome{kind: outcomeBroken, broken: broken}
	}
	var missing *registry.MissingDependencyError
	if errors.As(err, &missing) {
		return outcome{kind: outcomeMissingDependency, missing: missing}
	}
	var extra *registry.ExtraDependencyError
	if errors.As(err, &extra) {
		return outcome{kind: outcomeExtraDependency, extra: extra}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return outcome{kind: outcomeInterrupted}
	}
	return outcome{kind: outcomeError}
}

// queueNextTasks builds followups that queue every task depending on this
// one. With reset, dependents are first set back to pending: the task just
// reached a terminal state, so anything computed from it is stale.
func (e *Engine) queueNextTasks(ctx context.Context, task *models.Task, reset bool) []followup {
	edges, err := e.deps.ListNext(ctx, task.ID)
	if err != nil {
		e.log.Warn("failed to list dependents", "task_id", task.ID, "error", err)
		return nil
	}

	var followups []followup
	for _, edge := range edges {
		next := edge.Next
		followups = append(followups, func(ctx context.Context) error {
			if reset {
				if err := e.resetTask(ctx, next); err != nil {
					return err
				}
			}
			nextTask, err := e.tasks.GetByID(ctx, next)
			if err != nil {
				return err
			}
			e.log.Debug("queueing dependent", "task_id", task.ID, "next", nextTask.String())
			return e.enqueueTask(ctx, nextTask)
		})
	}
	return followups
}
