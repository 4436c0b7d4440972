package router // package router defines how HTTP routes are registered for the API

import (
	"context"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/handler"
	"github.com/iliyamo/book-catalog/internal/middleware"
	"github.com/iliyamo/book-catalog/internal/model"
	"github.com/iliyamo/book-catalog/internal/utils"
)

// Deps is everything the routes need. Redis may be nil, in which case rate
// limiting and caching are skipped.
type Deps struct {
	Log       *zap.Logger
	Issuer    *utils.TokenIssuer
	Auth      *handler.AuthHandler
	Books     *handler.BookHandler
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Ping      func(context.Context) error
}

// New builds the echo instance with the global middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Log))

	RegisterRoutes(e, d.Ping)
	RegisterAuth(e, d.Auth, d.Issuer, middleware.NewTokenBucket(d.RateLimit, d.Redis))
	RegisterBooks(e, d.Books, d.Issuer, d.Cache, d.Redis)
	return e
}

// anyRole rejects tokens whose role claim is not a known role.
var anyRole = middleware.RequireRole(model.RoleUser, model.RoleAdmin)

// RegisterRoutes registers routes that do not require authentication:
// the health check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, ping func(context.Context) error) {
	e.GET("/healthz", handler.Health(ping))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the /auth routes. register, login, refresh and
// logout are rate limited; /auth/me needs a bearer token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, issuer *utils.TokenIssuer, limit echo.MiddlewareFunc) {
	g := e.Group("/auth")
	g.POST("/register", a.Register, limit)
	g.POST("/login", a.Login, limit)
	g.POST("/refresh", a.Refresh, limit)
	// logout takes the refresh token, not an access token
	g.POST("/logout", a.Logout, limit)

	g.GET("/me", a.Me, middleware.JWTAuth(issuer), anyRole)
}

// RegisterBooks registers /api/books. Reads go through the per-user response
// cache; writes bump the caller's cache generation once they succeed.
func RegisterBooks(e *echo.Echo, b *handler.BookHandler, issuer *utils.TokenIssuer, cache config.CacheConfig, rdb *redis.Client) {
	g := e.Group("/api/books", middleware.JWTAuth(issuer), anyRole)

	read := middleware.NewRedisCache(cache, rdb)
	write := middleware.InvalidateUserCache(cache, rdb)

	g.GET("", b.List, read)
	g.GET("/:id", b.Get, read)
	g.POST("", b.Create, write)
	g.PUT("/:id", b.Update, write)
	g.DELETE("/:id", b.Delete, write)
}
