package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/metrics"
)

// RequestLogger attaches a request-scoped zap logger (with request_id) to the
// request context and logs one line per request. It also records the HTTP
// Prometheus metrics.
func RequestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			if rid == "" {
				rid = uuid.NewString()
				c.Response().Header().Set(echo.HeaderXRequestID, rid)
			}

			l := base.With(zap.String("request_id", rid))
			c.SetRequest(req.WithContext(logger.Into(req.Context(), l)))

			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the error response so the status below is final
				c.Error(err)
			}
			latency := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			metrics.HTTPRequests.WithLabelValues(route, req.Method, statusClass(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route, req.Method).Observe(latency.Seconds())

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("latency", latency),
				zap.String("remote_ip", c.RealIP()),
			}
			if id, ok := IdentityFrom(c); ok {
				fields = append(fields, zap.Uint64("user_id", id.UserID))
			}
			switch {
			case status >= 500:
				l.Error("request", append(fields, zap.Error(err))...)
			case status >= 400:
				l.Info("request", fields...)
			default:
				l.Debug("request", fields...)
			}
			return nil
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
