package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/logger"
)

// Health is the health-check endpoint used by load balancers and
// monitoring. It answers "ok" while ping succeeds and 503 otherwise.
func Health(ping func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()
		if err := ping(ctx); err != nil {
			logger.From(ctx).Warn("health check failed", zap.Error(err))
			return c.String(http.StatusServiceUnavailable, "unhealthy")
		}
		return c.String(http.StatusOK, "ok")
	}
}
