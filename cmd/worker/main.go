package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docpipe/docpipe/common/bootstrap"
	"github.com/docpipe/docpipe/common/db"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/logger"
	"github.com/docpipe/docpipe/common/pipeline"
	"github.com/docpipe/docpipe/common/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (DB with migrations, logger, redis, queue)
	components, err := bootstrap.Setup(ctx, "worker", bootstrap.WithDBInitHook(db.Migrate))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap worker: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	worker := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	log := components.Logger.WithWorker(worker)

	reg := registry.New()
	eng, err := pipeline.NewEngine(components, reg, worker)
	if err != nil {
		log.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	if err := pipeline.RegisterTasks(reg, eng); err != nil {
		log.Error("failed to register tasks", "error", err)
		os.Exit(1)
	}

	log.Info("starting worker pool",
		"workers", components.Config.Queue.WorkerCount,
		"queues", eng.QueueKeys(),
		"dispatch_interval", components.Config.Dispatch.Interval,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < components.Config.Queue.WorkerCount; i++ {
		g.Go(func() error {
			return consumeLoop(ctx, eng, components, log)
		})
	}
	g.Go(func() error {
		return dispatchLoop(ctx, eng, components, log)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// consumeLoop pops tasks off the collection's queues and executes them
// until the context is cancelled
func consumeLoop(ctx context.Context, eng *engine.Engine, components *bootstrap.Components, log *logger.Logger) error {
	keys := eng.QueueKeys()
	popTimeout := components.Config.Queue.PopTimeout

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := components.Queue.Dequeue(ctx, keys, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		if err := eng.ExecuteTask(ctx, msg.TaskID); err != nil {
			log.Error("task execution failed", "task_id", msg.TaskID, "error", err)
		}
	}
}

// dispatchLoop periodically sweeps the task table for work the queues lost
func dispatchLoop(ctx context.Context, eng *engine.Engine, components *bootstrap.Components, log *logger.Logger) error {
	pass := func() {
		start := time.Now()
		if _, err := eng.DispatchPending(ctx); err != nil {
			log.Warn("dispatch pass failed", "error", err)
		}
		if components.Telemetry != nil {
			components.Telemetry.RecordDuration("dispatch", start)
		}
	}

	// One pass at startup so a fresh deployment drains the backlog
	// without waiting a full interval
	pass()

	ticker := time.NewTicker(components.Config.Dispatch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pass()
		}
	}
}
