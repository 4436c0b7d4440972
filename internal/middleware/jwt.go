package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the typed Identity in the request context. Handlers read it
// with IdentityFrom.
func JWTAuth(issuer *utils.TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, raw, ok := strings.Cut(auth, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}

			claims, err := issuer.Parse(strings.TrimSpace(raw))
			if err != nil {
				logger.From(c.Request().Context()).Debug("access token rejected", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			SetIdentity(c, Identity{
				UserID:    claims.UserID,
				Email:     claims.Email,
				Role:      claims.Role,
				TokenID:   claims.TokenID,
				ExpiresAt: claims.ExpiresAt,
			})
			return next(c)
		}
	}
}
