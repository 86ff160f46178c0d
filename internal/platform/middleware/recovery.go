package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbill/medbill/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 and logs it with the caller and
// the goroutine stack. http.ErrAbortHandler is re-raised so net/http can drop
// the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}

				evt := logger.Error().
					Err(cause).
					Str("request_id", RequestIDFromContext(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Bytes("stack", debug.Stack())
				if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
					evt = evt.Str("user_id", uid)
				}
				evt.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error").
					SetInternal(cause)
			}()
			return next(c)
		}
	}
}
