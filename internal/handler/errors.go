package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/AhmadAlbader/BCards/internal/service"
)

// ErrorHandler returns an Echo error handler that renders every error raised
// outside the gateway handlers (router 404/405, body limit, recovered panics)
// as a {"error": msg} body.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "http")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = http.StatusText(code)
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			}
		} else {
			logger.Error("unhandled error",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"err", err,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, service.ErrorResponse(msg))
		}
		if werr != nil {
			logger.Error("write error response", "err", werr)
		}
	}
}
