package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/docpipe/docpipe/cmd/admin/container"
	"github.com/docpipe/docpipe/cmd/admin/handlers"
)

// RegisterTaskRoutes registers task inspection and maintenance routes
func RegisterTaskRoutes(api *echo.Group, c *container.Container) {
	h := handlers.NewTaskHandler(c)

	tasks := api.Group("/tasks")
	{
		tasks.GET("", h.ListTasks)            // GET /api/v1/tasks?status=&func=&limit=
		tasks.GET("/:id", h.GetTask)          // GET /api/v1/tasks/{id}
		tasks.POST("/:id/retry", h.RetryTask) // POST /api/v1/tasks/{id}/retry?fg=true
	}

	api.POST("/retry", h.BulkRetry)
	api.POST("/dispatch", h.Dispatch)
}

// RegisterRecoveryRoutes registers blob recovery routes
func RegisterRecoveryRoutes(api *echo.Group, c *container.Container) {
	h := handlers.NewRecoveryHandler(c)

	api.POST("/recovery/blobs/:hash/retry", h.RetryBlob)
}
