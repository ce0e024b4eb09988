package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/common/models"
)

func noop(ctx context.Context, call *Call) (*models.Blob, error) {
	return nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Definition{Name: "extract_text", Handler: noop}))

	def, err := reg.Lookup("extract_text")
	require.NoError(t, err)
	assert.Equal(t, "default", def.Queue, "empty queue falls back to default")

	_, err = reg.Lookup("missing")
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Definition{Name: "dup", Handler: noop}))
	assert.Error(t, reg.Register(Definition{Name: "dup", Handler: noop}))
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	reg := New()
	assert.Error(t, reg.Register(Definition{Handler: noop}), "missing name")
	assert.Error(t, reg.Register(Definition{Name: "nohandler"}), "missing handler")
}

func TestDefinitionsOrderedByPriority(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Definition{Name: "low", Priority: 1, Handler: noop}))
	require.NoError(t, reg.Register(Definition{Name: "high", Priority: 9, Handler: noop}))
	require.NoError(t, reg.Register(Definition{Name: "mid", Priority: 5, Handler: noop}))

	var names []string
	for _, def := range reg.Definitions() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, names)
}

func TestQueues(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Definition{Name: "a", Queue: "cpu", Priority: 2, Handler: noop}))
	require.NoError(t, reg.Register(Definition{Name: "b", Queue: "io", Priority: 1, Handler: noop}))
	require.NoError(t, reg.Register(Definition{Name: "c", Queue: "cpu", Priority: 3, Handler: noop}))

	assert.Equal(t, []string{"cpu", "io"}, reg.Queues())
}

func TestDepsGet(t *testing.T) {
	deps := Deps{"text": {}}

	_, err := deps.Get("text", "extract_text", "h")
	require.NoError(t, err)

	_, err = deps.Get("ocr", "run_ocr", "h")
	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ocr", missing.Name)
	assert.Equal(t, "run_ocr", missing.Func)
}
