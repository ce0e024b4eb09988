// Package engine implements the task scheduler: submission, execution,
// dispatch, retry and recovery over the task/dependency/blob tables.
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docpipe/docpipe/common/blobstore"
	"github.com/docpipe/docpipe/common/cache"
	"github.com/docpipe/docpipe/common/logger"
	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/queue"
	"github.com/docpipe/docpipe/common/registry"
)

// TaskStore is the persistence contract for task rows. The production
// implementation is repository.TaskRepository; tests use an in-memory store
// with the same locking contract.
type TaskStore interface {
	GetOrCreate(ctx context.Context, task *models.Task) (*models.Task, bool, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	Save(ctx context.Context, task *models.Task) error

	// WithLock runs fn holding an exclusive row lock for the task; the
	// mutated task is persisted when fn returns nil. Returns
	// repository.ErrTaskLocked when another worker holds the lock.
	WithLock(ctx context.Context, id int64, fn func(ctx context.Context, task *models.Task) error) error

	ListByStatus(ctx context.Context, status, fn string, limit int) ([]*models.Task, error)
	ListOutdated(ctx context.Context, fn string, version, limit int) ([]*models.Task, error)
	ListAgedFailures(ctx context.Context, fn string, version, failLimit int, cutoff time.Time, limit int) ([]*models.Task, error)
	ListReferencingBlob(ctx context.Context, hash string, limit int) ([]*models.Task, error)
	ResetForRetry(ctx context.Context, status, fn string, limit int) ([]int64, error)
}

// DependencyStore is the persistence contract for dependency edges.
type DependencyStore interface {
	Create(ctx context.Context, prev, next int64, name string) error
	ListPrev(ctx context.Context, next int64) ([]*models.TaskDependency, error)
	ListNext(ctx context.Context, prev int64) ([]*models.TaskDependency, error)
	DeleteByName(ctx context.Context, next int64, name string) error
}

// BlobCatalog is the persistence contract for blob metadata rows.
type BlobCatalog interface {
	GetOrCreate(ctx context.Context, blob *models.Blob) (*models.Blob, bool, error)
	GetByHash(ctx context.Context, hash string) (*models.Blob, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// Config carries the engine knobs.
type Config struct {
	// Collection namespaces the queues; one engine serves one collection
	Collection string

	// Worker identity recorded on tasks this engine executes
	Worker string

	// DispatchQueueLimit caps how many tasks per function one dispatch
	// pass enqueues
	DispatchQueueLimit int

	// RetryAfter is how long a failed task rests before the dispatcher
	// retries it
	RetryAfter time.Duration

	// RetryFailLimit stops automatic retries after this many consecutive
	// failures
	RetryFailLimit int

	// RetryBatchLimit caps how many failed tasks one dispatch pass retries
	RetryBatchLimit int
}

// Engine ties the registry, the stores, the blob store and the queue
// together.
type Engine struct {
	cfg   Config
	reg   *registry.Registry
	tasks TaskStore
	deps  DependencyStore
	blobs BlobCatalog
	store blobstore.Store
	queue queue.Queue
	log   *logger.Logger

	guard    cache.Cache
	guardTTL time.Duration
}

// New creates an engine
func New(cfg Config, reg *registry.Registry, tasks TaskStore, deps DependencyStore, blobs BlobCatalog, store blobstore.Store, q queue.Queue, log *logger.Logger) *Engine {
	if cfg.DispatchQueueLimit <= 0 {
		cfg.DispatchQueueLimit = 100
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Minute
	}
	if cfg.RetryFailLimit <= 0 {
		cfg.RetryFailLimit = 5
	}
	if cfg.RetryBatchLimit <= 0 {
		cfg.RetryBatchLimit = 100
	}
	return &Engine{
		cfg:   cfg,
		reg:   reg,
		tasks: tasks,
		deps:  deps,
		blobs: blobs,
		store: store,
		queue: q,
		log:   log.WithCollection(cfg.Collection),
	}
}

// WithEnqueueGuard attaches a cache that suppresses repeat enqueues of the
// same task within ttl. Purely a queue-traffic optimization: a duplicate
// delivery is already a no-op for a completed task, so the guard may lose
// entries without harm.
func (e *Engine) WithEnqueueGuard(c cache.Cache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	e.guard = c
	e.guardTTL = ttl
	return e
}

// Registry returns the engine's task registry
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Tasks returns the engine's task store
func (e *Engine) Tasks() TaskStore {
	return e.tasks
}

// Blobs returns the engine's blob catalog
func (e *Engine) Blobs() BlobCatalog {
	return e.blobs
}

// QueueKeys returns the queue keys this engine's workers consume,
// priority order.
func (e *Engine) QueueKeys() []string {
	var keys []string
	for _, q := range e.reg.Queues() {
		keys = append(keys, queue.Key(e.cfg.Collection, q))
	}
	return keys
}

// enqueue puts a task on the queue of its function definition
func (e *Engine) enqueue(ctx context.Context, def *registry.Definition, taskID int64) error {
	if e.guard != nil {
		guardKey := fmt.Sprintf("enqueued:%s:%d", e.cfg.Collection, taskID)
		won, err := e.guard.Add(ctx, guardKey, "1", e.guardTTL)
		if err != nil {
			e.log.Debug("enqueue guard unavailable", "error", err)
		} else if !won {
			e.log.Debug("suppressed duplicate enqueue", "task_id", taskID, "func", def.Name)
			return nil
		}
	}
	key := queue.Key(e.cfg.Collection, def.Queue)
	return e.queue.Enqueue(ctx, key, queue.Message{Collection: e.cfg.Collection, TaskID: taskID})
}

// enqueueTask enqueues a task after resolving its function definition
func (e *Engine) enqueueTask(ctx context.Context, task *models.Task) error {
	def, err := e.reg.Lookup(task.Func)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, def, task.ID)
}

// CreateBlob streams content into the blob store and registers the metadata
// row. Storing the same bytes twice converges on the existing blob.
func (e *Engine) CreateBlob(ctx context.Context, r io.Reader) (*models.Blob, error) {
	session, err := e.store.Create(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(session, r); err != nil {
		session.Abort()
		return nil, fmt.Errorf("failed to write blob content: %w", err)
	}

	digest, err := session.Commit(ctx)
	if err != nil {
		return nil, err
	}

	blob, _, err := e.blobs.GetOrCreate(ctx, &models.Blob{
		SHA3_256:     digest.SHA3_256,
		SHA256:       digest.SHA256,
		SHA1:         digest.SHA1,
		MD5:          digest.MD5,
		Size:         digest.Size,
		Magic:        digest.Magic,
		MimeType:     digest.MimeType,
		MimeEncoding: digest.MimeEncoding,
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// OpenBlob returns a reader over stored blob content
func (e *Engine) OpenBlob(ctx context.Context, hash string) (io.ReadCloser, error) {
	return e.store.Open(ctx, hash)
}
