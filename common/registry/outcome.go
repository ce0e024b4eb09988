package registry

import (
	"fmt"

	"github.com/docpipe/docpipe/common/models"
)

// Reason codes for permanent failures.
const (
	ReasonDependencyHasError = "dependency_has_error"
)

// BrokenError marks a permanent, domain-level failure: the input itself
// can't be processed (encrypted archive, corrupt file, disabled feature).
// The task moves to broken and is never retried automatically; dependents
// still run and receive the broken outcome through their Deps.
type BrokenError struct {
	// Reason is a short stable identifier, e.g. "encrypted_archive"
	Reason string

	// Err is the optional underlying cause
	Err error
}

func (e *BrokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broken (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("broken (%s)", e.Reason)
}

func (e *BrokenError) Unwrap() error {
	return e.Err
}

// Broken builds a BrokenError with the given reason code
func Broken(reason string, err error) *BrokenError {
	return &BrokenError{Reason: reason, Err: err}
}

// MissingDependencyError signals that a handler needs the result of another
// task that isn't wired in yet. The executor defers the task, records the
// edge and submits the prerequisite; this is normal control flow, not a
// failure.
type MissingDependencyError struct {
	// Name of the dependency edge to create
	Name string

	// Func and Args identify the prerequisite task to submit
	Func string
	Args []any
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependency %s: %s", e.Name, e.Func)
}

// MissingDependency builds the missing-dependency signal
func MissingDependency(name, fn string, args ...any) *MissingDependencyError {
	return &MissingDependencyError{Name: name, Func: fn, Args: args}
}

// ExtraDependencyError signals that a named dependency recorded for the task
// is obsolete. The executor deletes the edge and re-runs the task.
type ExtraDependencyError struct {
	Name string
}

func (e *ExtraDependencyError) Error() string {
	return fmt.Sprintf("extra dependency %s", e.Name)
}

// Result is the delivered outcome of one dependency edge. Broken is set when
// the prerequisite finished broken; Blob is set when it produced one.
// A successful prerequisite without a result blob leaves both nil.
type Result struct {
	Blob   *models.Blob
	Broken *BrokenError
}

// Deps maps dependency edge names to their results.
type Deps map[string]Result

// Get returns the result for a named edge, or the missing-dependency signal
// that would wire it in. Typical handler usage:
//
//	res, err := call.Deps.Get("text", "extract_text", hash)
//	if err != nil {
//		return nil, err
//	}
func (d Deps) Get(name, fn string, args ...any) (Result, error) {
	res, ok := d[name]
	if !ok {
		return Result{}, MissingDependency(name, fn, args...)
	}
	return res, nil
}
