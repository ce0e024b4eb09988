// Package pipeline wires the engine out of bootstrapped components and
// registers the built-in document tasks.
package pipeline

import (
	"time"

	"github.com/docpipe/docpipe/common/blobstore"
	"github.com/docpipe/docpipe/common/bootstrap"
	"github.com/docpipe/docpipe/common/cache"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/registry"
	"github.com/docpipe/docpipe/common/repository"
)

// NewEngine builds an engine over the Postgres repositories and the
// filesystem blob store, configured from the bootstrapped components.
func NewEngine(c *bootstrap.Components, reg *registry.Registry, worker string) (*engine.Engine, error) {
	store, err := blobstore.NewFSStore(c.Config.Blobs.Root, c.Logger)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{
		Collection:         c.Config.Service.Collection,
		Worker:             worker,
		DispatchQueueLimit: c.Config.Dispatch.QueueLimit,
		RetryAfter:         c.Config.Dispatch.RetryAfter,
		RetryFailLimit:     c.Config.Dispatch.RetryFailLimit,
		RetryBatchLimit:    c.Config.Dispatch.RetryBatchLimit,
	},
		reg,
		repository.NewTaskRepository(c.DB),
		repository.NewDependencyRepository(c.DB),
		repository.NewBlobRepository(c.DB),
		store,
		c.Queue,
		c.Logger,
	)

	// Shared guard keeps dispatch passes from flooding the queue with
	// copies of tasks another worker just enqueued. Duplicate deliveries
	// stay harmless either way.
	if c.Redis != nil {
		eng.WithEnqueueGuard(cache.NewRedisCache(c.Redis), 15*time.Second)
	}
	return eng, nil
}
