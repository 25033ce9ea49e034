package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPError converts err into an echo error whose body is the typed error.
// Untyped errors become a 500 without leaking their text.
func HTTPError(err error) *echo.HTTPError {
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(HTTPStatus(e.Kind), e).SetInternal(err)
}
