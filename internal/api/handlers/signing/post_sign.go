package signing

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/httperrors"
	"github/chapool/tx-signer/internal/signing"
	"github/chapool/tx-signer/internal/util"
)

func PostSignTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/sign/transaction", postSignHandler(signing.OperationSignTransaction, s.Signer.SignTransaction))
}

func PostSignContractTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/sign/contract-transaction", postSignHandler(signing.OperationSignContractTransaction, s.Signer.SignContractTransaction))
}

func PostSignSwapTransactionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/sign/swap-transaction", postSignHandler(signing.OperationSignSwapTransaction, s.Signer.SignSwapTransaction))
}

type signFunc func(ctx context.Context, req *signing.Request) *signing.Envelope

// postSignHandler answers with the envelope in both outcomes. Failed envelopes carry
// the status of their error code.
func postSignHandler(op signing.Operation, sign signFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body signing.Request
		if err := c.Bind(&body); err != nil {
			return httperrors.ErrBadRequestMalformedBody
		}
		body.Operation = op

		ctx := util.WithLogFields(c.Request().Context(), map[string]string{
			"transaction_id": body.TransactionID,
			"network_id":     body.NetworkID,
			"operation":      string(op),
		})
		log := util.LogFromContext(ctx)

		envelope := sign(ctx, &body)
		if envelope.Error != nil {
			log.Debug().Str("code", string(envelope.Error.Code)).Msg("Signing request failed")
			return c.JSON(httperrors.StatusForCode(envelope.Error.Code), envelope)
		}

		return c.JSON(http.StatusOK, envelope)
	}
}
