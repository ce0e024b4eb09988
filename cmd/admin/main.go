package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/docpipe/docpipe/cmd/admin/container"
	"github.com/docpipe/docpipe/cmd/admin/routes"
	"github.com/docpipe/docpipe/common/bootstrap"
	"github.com/docpipe/docpipe/common/db"
	"github.com/docpipe/docpipe/common/middleware"
	"github.com/docpipe/docpipe/common/ratelimit"
	"github.com/docpipe/docpipe/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB with migrations, logger, redis, queue)
	components, err := bootstrap.Setup(ctx, "admin", bootstrap.WithDBInitHook(db.Migrate))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap admin: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer, components)

	srv := server.New("admin API", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "admin",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container, components *bootstrap.Components) {
	var apiMiddleware []echo.MiddlewareFunc

	rlConfig := components.Config.RateLimit
	if rlConfig.Enabled && components.Redis != nil {
		limiter := ratelimit.New(components.Redis, components.Logger, rlConfig.Requests, rlConfig.Window)
		apiMiddleware = append(apiMiddleware, middleware.RateLimit(limiter, components.Logger))
	}

	api := e.Group("/api/v1", apiMiddleware...)
	routes.RegisterTaskRoutes(api, serviceContainer)
	routes.RegisterRecoveryRoutes(api, serviceContainer)
}
