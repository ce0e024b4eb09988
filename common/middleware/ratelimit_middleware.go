// Package middleware holds shared Echo middleware.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/docpipe/docpipe/common/logger"
	"github.com/docpipe/docpipe/common/ratelimit"
)

// RateLimit limits requests per client IP using the shared limiter.
// Fails open: a limiter error lets the request through.
func RateLimit(limiter *ratelimit.Limiter, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			allowed, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request", "error", err)
				return next(c)
			}
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "rate limit exceeded",
					"limit": limiter.Limit(),
				})
			}
			return next(c)
		}
	}
}
