package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/cmd/admin/container"
	"github.com/docpipe/docpipe/common/blobstore"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/engine/enginetest"
	"github.com/docpipe/docpipe/common/logger"
	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/queue"
	"github.com/docpipe/docpipe/common/registry"
)

func newTestContainer(t *testing.T) *container.Container {
	t.Helper()

	log := logger.New("error", "json")
	store, err := blobstore.NewFSStore(t.TempDir(), log)
	require.NoError(t, err)

	reg := registry.New()
	eng := engine.New(engine.Config{
		Collection: "testdata",
		Worker:     "admin-test",
	}, reg, enginetest.NewTasks(), enginetest.NewDeps(), enginetest.NewBlobs(), store, queue.NewMemoryQueue(log), log)

	return &container.Container{Registry: reg, Engine: eng}
}

func retryRequest(t *testing.T, h *TaskHandler, id int64, query string) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/?"+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/tasks/:id/retry")
	c.SetParamNames("id")
	c.SetParamValues(strconv.FormatInt(id, 10))
	return rec, h.RetryTask(c)
}

func TestRetryTaskForegroundFailure(t *testing.T) {
	cont := newTestContainer(t)
	cont.Registry.MustRegister(registry.Definition{
		Name: "unpack_archive",
		Handler: func(ctx context.Context, call *registry.Call) (*models.Blob, error) {
			return nil, registry.Broken("encrypted_archive", nil)
		},
	})

	task, err := cont.Engine.Laterz(context.Background(), "unpack_archive", []any{"doc-1"})
	require.NoError(t, err)

	rec, err := retryRequest(t, NewTaskHandler(cont), task.ID, "fg=true")
	require.NoError(t, err)

	// A failed foreground run is an error status, so operators can
	// script against the exit
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["error"], "encrypted_archive")
}

func TestRetryTaskForegroundSuccess(t *testing.T) {
	cont := newTestContainer(t)
	cont.Registry.MustRegister(registry.Definition{
		Name: "count_words",
		Handler: func(ctx context.Context, call *registry.Call) (*models.Blob, error) {
			return nil, nil
		},
	})

	task, err := cont.Engine.Laterz(context.Background(), "count_words", []any{"doc-1"})
	require.NoError(t, err)

	rec, err := retryRequest(t, NewTaskHandler(cont), task.ID, "fg=true")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "retried", body["status"])
}

func TestRetryTaskNotFound(t *testing.T) {
	cont := newTestContainer(t)

	_, err := retryRequest(t, NewTaskHandler(cont), 9999, "")
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}
