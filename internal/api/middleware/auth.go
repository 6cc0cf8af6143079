package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github/chapool/tx-signer/internal/util"
)

// APIKeyAuth accepts "Authorization: Bearer <key>" or "X-API-Key: <key>".
// With no keys configured every request is rejected. Missing and wrong keys both answer 401.
func APIKeyAuth(keys []string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + echo.HeaderAuthorization + ":Bearer ,header:X-API-Key",
		Validator: func(key string, c echo.Context) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}

			util.LogFromContext(c.Request().Context()).Debug().Msg("Rejected API key")

			return false, nil
		},
		ErrorHandler: func(err error, _ echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized).SetInternal(err)
		},
	})
}
