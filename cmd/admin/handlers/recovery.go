package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docpipe/docpipe/cmd/admin/container"
)

// RecoveryHandler handles blob damage recovery requests
type RecoveryHandler struct {
	c *container.Container
}

// NewRecoveryHandler creates a new recovery handler
func NewRecoveryHandler(c *container.Container) *RecoveryHandler {
	return &RecoveryHandler{c: c}
}

// RetryBlob re-runs the task chain around a damaged or deleted blob
// POST /api/v1/recovery/blobs/:hash/retry
func (h *RecoveryHandler) RetryBlob(c echo.Context) error {
	hash := c.Param("hash")
	if len(hash) != 64 {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a sha3-256 content hash")
	}

	count, err := h.c.Engine.RetryTasksForBlob(c.Request().Context(), hash)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"blob":    hash,
		"retried": count,
	})
}
