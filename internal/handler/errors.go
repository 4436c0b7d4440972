package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/repository"
	"github.com/iliyamo/book-catalog/internal/service"
)

// dbTimeout bounds the store calls made by one handler.
const dbTimeout = 5 * time.Second

// writeServiceError maps service and repository errors to HTTP responses.
// Internal errors are logged and never echoed to the client.
func writeServiceError(c echo.Context, err error) error {
	var (
		ve *service.ValidationError
		ce *service.ConflictError
		ue *service.UnauthorizedError
	)
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Msg})
	case errors.As(err, &ce):
		return c.JSON(http.StatusConflict, echo.Map{"error": ce.Msg})
	case errors.As(err, &ue):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": ue.Reason})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	logger.From(c.Request().Context()).Error("request failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
