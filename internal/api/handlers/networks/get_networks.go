package networks

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/util"
)

func GetNetworksRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/networks", getNetworksHandler(s))
}

func getNetworksHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := util.LogFromContext(c.Request().Context())

		ids := s.Chains.Networks()
		response := &GetNetworksResponse{
			Networks: make([]NetworkItem, 0, len(ids)),
		}

		for _, id := range ids {
			d, err := s.Chains.Resolve(id)
			if err != nil {
				log.Debug().Err(err).Str("network_id", id).Msg("Failed to resolve listed network")
				return err
			}
			response.Networks = append(response.Networks, networkItem(d))
		}

		return c.JSON(http.StatusOK, response)
	}
}
