package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/util"
)

// StatusNotReady is answered while a component is missing, the database is unreachable
// or the keystore is still locked.
const StatusNotReady = 521

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

// Readiness check
// This endpoint returns 200 when our Service is ready to serve traffic (i.e. respond to queries).
func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		if !s.Ready() {
			return c.String(StatusNotReady, "Not ready.")
		}

		if err := s.DB.PingContext(ctx); err != nil {
			log.Warn().Err(err).Msg("Readiness probe failed to ping database")
			return c.String(StatusNotReady, "Not ready.")
		}

		if !s.Seeds.IsInitialized() {
			log.Debug().Msg("Readiness probe: keystore not unlocked yet")
			return c.String(StatusNotReady, "Not ready.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
