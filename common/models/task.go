package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Task statuses. A task is created pending and transitions once per
// execution attempt; pending and deferred are re-enterable via retry.
const (
	// StatusPending - task wasn't run yet, or was reset for retry
	StatusPending = "pending"

	// StatusDeferred - waiting on some other task to finish
	StatusDeferred = "deferred"

	// StatusSuccess - task finished successfully
	StatusSuccess = "success"

	// StatusError - unexpected failure; might be temporary, might be
	// permanent, we don't know. Eligible for retry.
	StatusError = "error"

	// StatusBroken - permanent domain failure (encrypted archive, corrupt
	// input, disabled feature). Never retried automatically.
	StatusBroken = "broken"
)

// AllStatuses lists every valid task status.
var AllStatuses = []string{StatusPending, StatusDeferred, StatusSuccess, StatusError, StatusBroken}

// Field size clamps applied by Update.
const (
	maxErrorLen  = 1 << 13 // 8k of error screen
	maxReasonLen = 1 << 12 // 4k reason
	maxLogLen    = 1 << 14 // 16k of log space
)

// Task is one unit of work: the application of a registered function to an
// argument list. Rows are unique on (func, args), which is what de-duplicates
// the whole pipeline.
type Task struct {
	ID int64 `db:"id" json:"id"`

	// String key of the registered function
	Func string `db:"func" json:"func"`

	// JSON array of positional arguments
	Args []any `db:"args" json:"args"`

	// If the first argument is a blob, its hash is duplicated here.
	// Most tasks process exactly one blob as input, so this is indexed.
	BlobArg *string `db:"blob_arg" json:"blob_arg,omitempty"`

	// Hash of the result blob, set on success when the handler returns one
	Result *string `db:"result" json:"result,omitempty"`

	Status string `db:"status" json:"status"`

	// Error text, set when status is error or broken
	Error string `db:"error" json:"error"`

	// Identifier with the reason for a permanent failure
	BrokenReason string `db:"broken_reason" json:"broken_reason"`

	// First few KB of logs captured while the task ran
	Log string `db:"log" json:"log"`

	// Identity of the worker that last executed this task
	Worker string `db:"worker" json:"worker"`

	// Version of the registered function that ran this task; bumping the
	// registered version makes completed tasks outdated and re-runnable
	Version int `db:"version" json:"version"`

	// Consecutive failures at the current version
	FailCount int `db:"fail_count" json:"fail_count"`

	DateCreated  time.Time  `db:"date_created" json:"date_created"`
	DateModified time.Time  `db:"date_modified" json:"date_modified"`
	DateStarted  *time.Time `db:"date_started" json:"date_started,omitempty"`
	DateFinished *time.Time `db:"date_finished" json:"date_finished,omitempty"`
}

// ArgsJSON returns the canonical JSON encoding of the argument list,
// used for the (func, args) uniqueness key.
func (t *Task) ArgsJSON() ([]byte, error) {
	if t.Args == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(t.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task args: %w", err)
	}
	return data, nil
}

// Completed reports whether the task reached a terminal outcome at the given
// handler version. Broken counts as completed: its outcome flows to
// dependents as a typed sentinel rather than blocking them.
func (t *Task) Completed(version int) bool {
	return (t.Status == StatusSuccess || t.Status == StatusBroken) && t.Version == version
}

// Update sets the outcome fields in one place, clamping and escaping the
// text fields and maintaining the fail counter.
func (t *Task) Update(status, errText, brokenReason, logText string, version int) {
	oldVersion := t.Version
	t.Status = status
	t.Version = version

	t.Error = clamp(escape(errText), maxErrorLen)
	t.BrokenReason = clamp(escape(brokenReason), maxReasonLen)
	t.Log = clamp(escape(logText), maxLogLen)

	// Increment fail_count only when the same version keeps failing.
	// Reset on success or when the version changed.
	if t.Status == StatusSuccess || oldVersion != t.Version {
		t.FailCount = 0
	} else if t.Status == StatusBroken || t.Status == StatusError {
		t.FailCount++
	}
}

func (t *Task) String() string {
	args, _ := t.ArgsJSON()
	return fmt.Sprintf("#%d %s(%s) [%s]", t.ID, t.Func, args, t.Status)
}

// clamp truncates to at most max bytes, backing up to a rune boundary so
// the result stays valid UTF-8 for the text columns.
func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// escape rewrites non-printable characters as \NNN so broken terminal
// output or binary junk in error messages stays greppable.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			b.WriteRune(r)
		} else {
			b.WriteString(`\` + strconv.Itoa(int(r)))
		}
	}
	return b.String()
}

// TaskDependency is a named directed edge: "next" requires the result of
// "prev" under the given name.
type TaskDependency struct {
	ID   int64  `db:"id" json:"id"`
	Prev int64  `db:"prev" json:"prev"`
	Next int64  `db:"next" json:"next"`
	Name string `db:"name" json:"name"`
}

func (d *TaskDependency) String() string {
	return fmt.Sprintf("%d -> %d (%s)", d.Prev, d.Next, d.Name)
}
