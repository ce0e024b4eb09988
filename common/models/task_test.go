package models

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleted(t *testing.T) {
	task := &Task{Status: StatusSuccess, Version: 3}

	assert.True(t, task.Completed(3))
	assert.False(t, task.Completed(4), "outdated version is not completed")

	task.Status = StatusBroken
	assert.True(t, task.Completed(3), "broken is a terminal outcome")

	for _, status := range []string{StatusPending, StatusDeferred, StatusError} {
		task.Status = status
		assert.False(t, task.Completed(3), status)
	}
}

func TestUpdateClampsFields(t *testing.T) {
	task := &Task{}
	task.Update(StatusError, strings.Repeat("e", 1<<20), strings.Repeat("r", 1<<20), strings.Repeat("l", 1<<20), 0)

	assert.Len(t, task.Error, 1<<13)
	assert.Len(t, task.BrokenReason, 1<<12)
	assert.Len(t, task.Log, 1<<14)
}

func TestUpdateClampKeepsValidUTF8(t *testing.T) {
	// A multi-byte rune straddling the byte limit must not be cut in half:
	// Postgres rejects invalid UTF-8 in text columns, which would make the
	// outcome unsaveable.
	text := strings.Repeat("a", (1<<13)-1) + "ééé"

	task := &Task{}
	task.Update(StatusError, text, "", "", 0)

	assert.True(t, utf8.ValidString(task.Error))
	assert.LessOrEqual(t, len(task.Error), 1<<13)
	assert.True(t, strings.HasSuffix(task.Error, "a"))
}

func TestUpdateEscapesNonPrintables(t *testing.T) {
	task := &Task{}
	task.Update(StatusError, "bad byte \x00 bell \x07 ok\nline\ttab", "", "", 0)

	assert.Equal(t, `bad byte \0 bell \7 ok`+"\nline\ttab", task.Error)
}

func TestUpdateFailCount(t *testing.T) {
	task := &Task{}

	task.Update(StatusError, "x", "", "", 0)
	assert.Equal(t, 1, task.FailCount)
	task.Update(StatusBroken, "x", "nope", "", 0)
	assert.Equal(t, 2, task.FailCount)

	// Pending at the same version keeps the streak
	task.Update(StatusPending, "", "", "", 0)
	assert.Equal(t, 2, task.FailCount)

	// Success resets it
	task.Update(StatusSuccess, "", "", "", 0)
	assert.Equal(t, 0, task.FailCount)

	// A version bump wipes the slate even for a failure
	task.Update(StatusError, "x", "", "", 0)
	require.Equal(t, 1, task.FailCount)
	task.Update(StatusError, "x", "", "", 1)
	assert.Equal(t, 0, task.FailCount)
}

func TestArgsJSON(t *testing.T) {
	task := &Task{}
	data, err := task.ArgsJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data), "nil args encode as an empty array")

	task.Args = []any{"abc", float64(2)}
	data, err = task.ArgsJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["abc", 2]`, string(data))
}
