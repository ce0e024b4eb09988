package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/docpipe/docpipe/cmd/admin/container"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/models"
	"github.com/docpipe/docpipe/common/repository"
)

// TaskHandler handles task inspection and maintenance requests
type TaskHandler struct {
	c *container.Container
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(c *container.Container) *TaskHandler {
	return &TaskHandler{c: c}
}

func taskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}
	return id, nil
}

// GetTask retrieves a single task
// GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}

	task, err := h.c.Engine.Tasks().GetByID(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// ListTasks lists tasks filtered by status and function
// GET /api/v1/tasks?status=error&func=sniff_content&limit=50
func (h *TaskHandler) ListTasks(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = models.StatusPending
	}
	if !validStatus(status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+status)
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	tasks, err := h.c.Engine.Tasks().ListByStatus(c.Request().Context(), status, c.QueryParam("func"), limit)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// RetryTask resets one task and runs it again
// POST /api/v1/tasks/:id/retry?fg=true&force=true
func (h *TaskHandler) RetryTask(c echo.Context) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}

	opts := engine.RetryOptions{
		Force:      c.QueryParam("force") == "true",
		Foreground: c.QueryParam("fg") == "true",
	}

	err = h.c.Engine.RetryTask(c.Request().Context(), id, opts)
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil && opts.Foreground {
		// Foreground runs report the handler's failure to the caller
		// instead of leaving it on the task row only
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"task_id": id,
			"status":  "failed",
			"error":   err.Error(),
		})
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"task_id": id,
		"status":  "retried",
	})
}

// BulkRetry resets a batch of tasks in one status back to pending
// POST /api/v1/retry?status=error&func=sniff_content&limit=500
func (h *TaskHandler) BulkRetry(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = models.StatusError
	}
	if !validStatus(status) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+status)
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	count, err := h.c.Engine.RetryAll(c.Request().Context(), status, c.QueryParam("func"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  status,
		"retried": count,
	})
}

// Dispatch runs one dispatch pass immediately
// POST /api/v1/dispatch
func (h *TaskHandler) Dispatch(c echo.Context) error {
	stats, err := h.c.Engine.DispatchPending(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func validStatus(status string) bool {
	for _, s := range models.AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}
