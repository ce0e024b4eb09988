// Package enginetest provides in-memory implementations of the engine's
// store contracts for tests. They mirror the Postgres repositories,
// including the per-row try-lock semantics of WithLock.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/repository"
)

// Tasks is an in-memory task store. WithLock is a per-row try-lock held for
// the whole callback, and the mutated task is only persisted when the
// callback succeeds.
type Tasks struct {
	mu     sync.Mutex
	seq    int64
	byID   map[int64]*models.Task
	byKey  map[string]int64
	locked map[int64]bool
}

// NewTasks creates an empty in-memory task store
func NewTasks() *Tasks {
	return &Tasks{
		byID:   make(map[int64]*models.Task),
		byKey:  make(map[string]int64),
		locked: make(map[int64]bool),
	}
}

func taskKey(task *models.Task) string {
	args, _ := task.ArgsJSON()
	return task.Func + "|" + string(args)
}

func copyTask(task *models.Task) *models.Task {
	cp := *task
	return &cp
}

func (m *Tasks) GetOrCreate(ctx context.Context, task *models.Task) (*models.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := taskKey(task)
	if id, ok := m.byKey[key]; ok {
		return copyTask(m.byID[id]), false, nil
	}

	m.seq++
	stored := copyTask(task)
	stored.ID = m.seq
	stored.Status = models.StatusPending
	now := time.Now()
	stored.DateCreated = now
	stored.DateModified = now

	m.byID[stored.ID] = stored
	m.byKey[key] = stored.ID
	return copyTask(stored), true, nil
}

func (m *Tasks) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, repository.ErrNotFound)
	}
	return copyTask(task), nil
}

func (m *Tasks) Save(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[task.ID]; !ok {
		return fmt.Errorf("task %d: %w", task.ID, repository.ErrNotFound)
	}
	stored := copyTask(task)
	stored.DateModified = time.Now()
	m.byID[task.ID] = stored
	return nil
}

func (m *Tasks) WithLock(ctx context.Context, id int64, fn func(ctx context.Context, task *models.Task) error) error {
	m.mu.Lock()
	task, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("task %d: %w", id, repository.ErrNotFound)
	}
	if m.locked[id] {
		m.mu.Unlock()
		return repository.ErrTaskLocked
	}
	m.locked[id] = true
	work := copyTask(task)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.locked, id)
		m.mu.Unlock()
	}()

	if err := fn(ctx, work); err != nil {
		return err
	}

	m.mu.Lock()
	work.DateModified = time.Now()
	m.byID[id] = work
	m.mu.Unlock()
	return nil
}

// Lock marks a row as held, simulating a concurrent worker
func (m *Tasks) Lock(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[id] = true
}

// Unlock releases a row held with Lock
func (m *Tasks) Unlock(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locked, id)
}

func (m *Tasks) filter(pred func(*models.Task) bool, newestFirst bool, limit int) []*models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Task
	for _, task := range m.byID {
		if pred(task) {
			out = append(out, copyTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].DateModified.After(out[j].DateModified)
		}
		return out[i].DateModified.Before(out[j].DateModified)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Tasks) ListByStatus(ctx context.Context, status, fn string, limit int) ([]*models.Task, error) {
	return m.filter(func(t *models.Task) bool {
		return t.Status == status && (fn == "" || t.Func == fn)
	}, true, limit), nil
}

func (m *Tasks) ListOutdated(ctx context.Context, fn string, version, limit int) ([]*models.Task, error) {
	return m.filter(func(t *models.Task) bool {
		if t.Func != fn || t.Version >= version {
			return false
		}
		return t.Status == models.StatusSuccess || t.Status == models.StatusError || t.Status == models.StatusBroken
	}, true, limit), nil
}

func (m *Tasks) ListAgedFailures(ctx context.Context, fn string, version, failLimit int, cutoff time.Time, limit int) ([]*models.Task, error) {
	return m.filter(func(t *models.Task) bool {
		if t.Func != fn || t.Version != version {
			return false
		}
		if t.Status != models.StatusError && t.Status != models.StatusBroken {
			return false
		}
		return t.FailCount < failLimit && t.DateModified.Before(cutoff)
	}, false, limit), nil
}

func (m *Tasks) ListReferencingBlob(ctx context.Context, hash string, limit int) ([]*models.Task, error) {
	return m.filter(func(t *models.Task) bool {
		if t.BlobArg != nil && *t.BlobArg == hash {
			return true
		}
		return t.Result != nil && *t.Result == hash
	}, false, limit), nil
}

func (m *Tasks) ResetForRetry(ctx context.Context, status, fn string, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, task := range m.byID {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if m.locked[id] {
			continue
		}
		if task.Status != status || (fn != "" && task.Func != fn) {
			continue
		}
		task.Status = models.StatusPending
		task.Error = ""
		task.BrokenReason = ""
		task.Log = ""
		task.DateModified = time.Now()
		ids = append(ids, id)
	}
	return ids, nil
}

// Deps is an in-memory dependency edge store.
type Deps struct {
	mu    sync.Mutex
	seq   int64
	edges []*models.TaskDependency
}

// NewDeps creates an empty in-memory dependency store
func NewDeps() *Deps {
	return &Deps{}
}

func (m *Deps) Create(ctx context.Context, prev, next int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, edge := range m.edges {
		if edge.Prev == prev && edge.Next == next && edge.Name == name {
			return nil
		}
	}
	m.seq++
	m.edges = append(m.edges, &models.TaskDependency{ID: m.seq, Prev: prev, Next: next, Name: name})
	return nil
}

func (m *Deps) ListPrev(ctx context.Context, next int64) ([]*models.TaskDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.TaskDependency
	for _, edge := range m.edges {
		if edge.Next == next {
			cp := *edge
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Deps) ListNext(ctx context.Context, prev int64) ([]*models.TaskDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.TaskDependency
	for _, edge := range m.edges {
		if edge.Prev == prev {
			cp := *edge
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Deps) DeleteByName(ctx context.Context, next int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.edges[:0]
	for _, edge := range m.edges {
		if edge.Next == next && edge.Name == name {
			continue
		}
		kept = append(kept, edge)
	}
	m.edges = kept
	return nil
}

// Blobs is an in-memory blob catalog.
type Blobs struct {
	mu    sync.Mutex
	blobs map[string]*models.Blob
}

// NewBlobs creates an empty in-memory blob catalog
func NewBlobs() *Blobs {
	return &Blobs{blobs: make(map[string]*models.Blob)}
}

func (m *Blobs) GetOrCreate(ctx context.Context, blob *models.Blob) (*models.Blob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.blobs[blob.SHA3_256]; ok {
		cp := *existing
		return &cp, false, nil
	}
	stored := *blob
	now := time.Now()
	stored.DateCreated = now
	stored.DateModified = now
	m.blobs[blob.SHA3_256] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *Blobs) GetByHash(ctx context.Context, hash string) (*models.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, ok := m.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", hash, repository.ErrNotFound)
	}
	cp := *blob
	return &cp, nil
}

func (m *Blobs) Exists(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.blobs[hash]
	return ok, nil
}
