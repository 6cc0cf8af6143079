package networks

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/httperrors"
	"github/chapool/tx-signer/internal/signing/chain"
)

func GetNetworkRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/networks/:networkId", getNetworkHandler(s))
}

func getNetworkHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, err := s.Chains.Resolve(c.Param("networkId"))
		if err != nil {
			if errors.Is(err, chain.ErrUnsupportedNetwork) {
				return httperrors.ErrNotFoundNetwork
			}
			return err
		}

		return c.JSON(http.StatusOK, networkItem(d))
	}
}
