package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/apperror"
)

// respondError writes err as JSON.  Engine errors keep their kind, message
// and the units that lost a race; anything else is logged and reported as
// a bare 500 so store details never leak to the client.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	e, ok := apperror.As(err)
	if !ok {
		log.Error("unhandled error",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	body := echo.Map{"error": e.Message, "kind": e.Kind}
	if e.Message == "" {
		body["error"] = string(e.Kind)
	}
	if len(e.Units) > 0 {
		body["units"] = e.Units
	}
	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Warn("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "kind": apperror.KindValidation})
}
