package httperrors

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/util"
)

// HTTPError is the JSON body of every non-2xx management API answer.
type HTTPError struct {
	Code     int    `json:"status"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Internal error  `json:"-"`
}

func NewHTTPError(code int, errorType string, title string) *HTTPError {
	return &HTTPError{
		Code:  code,
		Type:  errorType,
		Title: title,
	}
}

// NewHTTPErrorWithDetail returns a copy of err carrying detail.
func NewHTTPErrorWithDetail(code int, errorType string, title string, detail string) *HTTPError {
	e := NewHTTPError(code, errorType, title)
	e.Detail = detail

	return e
}

func (e *HTTPError) Error() string {
	var b []byte
	b = fmt.Appendf(b, "HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
	if e.Detail != "" {
		b = fmt.Appendf(b, " - %s", e.Detail)
	}
	if e.Internal != nil {
		b = fmt.Appendf(b, ", %v", e.Internal)
	}

	return string(b)
}

func (e *HTTPError) Unwrap() error {
	return e.Internal
}

// HTTPErrorHandler renders every error returned by a handler as HTTPError JSON.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	log := util.LogFromContext(c.Request().Context())

	var httpErr *HTTPError
	var echoErr *echo.HTTPError

	switch {
	case errors.As(err, &httpErr):
	case errors.As(err, &echoErr):
		httpErr = NewHTTPError(echoErr.Code, "generic", http.StatusText(echoErr.Code))
		if msg, ok := echoErr.Message.(string); ok && msg != "" {
			httpErr.Detail = msg
		}
		httpErr.Internal = echoErr.Internal
	default:
		httpErr = FromSigningError(err)
	}

	if httpErr.Code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", httpErr.Code).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", httpErr.Code).Msg("Request rejected")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(httpErr.Code)
	} else {
		err = c.JSON(httpErr.Code, httpErr)
	}

	if err != nil {
		log.Warn().Err(err).Msg("Failed to write error response")
	}
}
