package common_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/test"
)

func TestGetMetrics(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		// one failed request yields a signing sample
		res := test.PerformRequest(t, s, "POST", "/api/v1/sign/transaction", test.GenericPayload{
			"keyId":         "k-1",
			"networkId":     "NOT_A_NETWORK",
			"transactionId": "tx-metrics",
			"to":            "x",
			"amount":        "1",
		}, test.AuthHeaders())
		require.Equal(t, http.StatusBadRequest, res.Result().StatusCode)

		res = test.PerformRequest(t, s, "GET", "/metrics", nil, nil)
		require.Equal(t, http.StatusOK, res.Result().StatusCode)

		body := res.Body.String()
		assert.Contains(t, body, `outcome="UNSUPPORTED_NETWORK"`)
		assert.Contains(t, body, "go_goroutines")
	})
}
