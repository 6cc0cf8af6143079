package wallets

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/httperrors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util"
)

type PostCreateWalletPayload struct {
	NetworkID string `json:"networkId"`
	// IncludePrivateKey returns the generated key. Off by default.
	IncludePrivateKey bool `json:"includePrivateKey"`
}

func PostCreateWalletRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/wallets", postCreateWalletHandler(s))
}

func postCreateWalletHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body PostCreateWalletPayload
		if err := c.Bind(&body); err != nil {
			return httperrors.ErrBadRequestMalformedBody
		}

		if strings.TrimSpace(body.NetworkID) == "" {
			return httperrors.FromSigningError(signing.NewError(signing.CodeInvalidRequest, "networkId is required"))
		}

		ctx := util.WithLogFields(c.Request().Context(), map[string]string{"network_id": body.NetworkID})
		log := util.LogFromContext(ctx)

		wallet, err := s.Signer.CreateWallet(ctx, body.NetworkID)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to create wallet")
			return httperrors.FromSigningError(err)
		}

		if !body.IncludePrivateKey {
			wallet.PrivateKey = ""
		}

		log.Info().Str("address", wallet.Address).Bool("with_private_key", body.IncludePrivateKey).Msg("Created wallet")

		return c.JSON(http.StatusOK, wallet)
	}
}
