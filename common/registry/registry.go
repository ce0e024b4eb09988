// Package registry holds the set of task functions a process knows how to
// run. Registration is explicit and happens once at bootstrap; the executor
// treats an unregistered function name as a configuration fault, not a task
// failure.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docpipe/docpipe/common/models"
)

// Handler runs one task. It receives the decoded argument list and the
// results of the task's named dependencies, and returns the result blob
// (nil for tasks without a blob result).
type Handler func(ctx context.Context, call *Call) (*models.Blob, error)

// Call is everything a handler gets to see about the task it runs.
type Call struct {
	Task *models.Task
	Args []any
	Deps Deps

	logBuf strings.Builder
}

// Logf appends a line to the task log. The executor stores the collected
// text on the task row, truncated to the log field limit.
func (c *Call) Logf(format string, args ...any) {
	fmt.Fprintf(&c.logBuf, format+"\n", args...)
}

// LogText returns the collected task log
func (c *Call) LogText() string {
	return c.logBuf.String()
}

// Definition describes one registered task function.
type Definition struct {
	// Name is the string key stored in task.func
	Name string

	// Queue the task is dispatched on
	Queue string

	// Priority orders dispatcher scans; higher runs first
	Priority int

	// Version of the handler. Bumping it makes finished tasks outdated
	// and eligible for re-execution.
	Version int

	Handler Handler
}

// Registry maps function names to their definitions.
type Registry struct {
	defs map[string]*Definition
}

// New creates an empty registry
func New() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a task definition. Registering the same name twice is an
// error so a process can't silently shadow a handler.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("task definition has no name")
	}
	if def.Handler == nil {
		return fmt.Errorf("task %s has no handler", def.Name)
	}
	if def.Queue == "" {
		def.Queue = "default"
	}
	if _, dup := r.defs[def.Name]; dup {
		return fmt.Errorf("task %s is already registered", def.Name)
	}
	r.defs[def.Name] = &def
	return nil
}

// MustRegister registers a definition and panics on error. For use at
// process bootstrap where a bad registration should kill the service.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for a function name
func (r *Registry) Lookup(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("task %s is not registered", name)
	}
	return def, nil
}

// Definitions returns all registered definitions ordered by descending
// priority, name as tiebreaker.
func (r *Registry) Definitions() []*Definition {
	defs := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Priority != defs[j].Priority {
			return defs[i].Priority > defs[j].Priority
		}
		return defs[i].Name < defs[j].Name
	})
	return defs
}

// Queues returns the distinct queue names of all registered definitions,
// priority order preserved.
func (r *Registry) Queues() []string {
	seen := make(map[string]bool)
	var queues []string
	for _, def := range r.Definitions() {
		if !seen[def.Queue] {
			seen[def.Queue] = true
			queues = append(queues, def.Queue)
		}
	}
	return queues
}
