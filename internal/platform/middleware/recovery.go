package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// PanicError carries a panic recovered on a goroutine other than the one
// running Recovery, such as the handler goroutine of RequestTimeout.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func newPanicError(v interface{}) *PanicError {
	stack := make([]byte, 4096)
	return &PanicError{Value: v, Stack: stack[:runtime.Stack(stack, false)]}
}

// Recovery turns a panic in the chain below it into a logged 500. Panics
// forwarded as *PanicError are treated the same way.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = internalError(logger, c, newPanicError(r))
				}
			}()
			err = next(c)
			var pe *PanicError
			if errors.As(err, &pe) {
				return internalError(logger, c, pe)
			}
			return err
		}
	}
}

func internalError(logger zerolog.Logger, c echo.Context, pe *PanicError) error {
	rid, _ := c.Get("request_id").(string)
	logger.Error().
		Str("request_id", rid).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Str("panic", fmt.Sprintf("%v", pe.Value)).
		Str("stack", string(pe.Stack)).
		Msg("panic recovered")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
