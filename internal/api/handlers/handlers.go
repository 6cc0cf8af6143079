package handlers

import (
	"github.com/labstack/echo/v4"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/handlers/common"
	"github/chapool/tx-signer/internal/api/handlers/networks"
	"github/chapool/tx-signer/internal/api/handlers/signing"
	"github/chapool/tx-signer/internal/api/handlers/wallets"
)

func AttachAllRoutes(s *api.Server) {
	// attach our routes
	s.Router.Routes = []*echo.Route{
		common.GetReadyRoute(s),
		common.GetMetricsRoute(s),
		networks.GetNetworksRoute(s),
		networks.GetNetworkRoute(s),
		signing.PostSignTransactionRoute(s),
		signing.PostSignContractTransactionRoute(s),
		signing.PostSignSwapTransactionRoute(s),
		wallets.PostCreateWalletRoute(s),
	}
}
