package networks_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/api/handlers/networks"
	"github/chapool/tx-signer/internal/signing/chain"
	"github/chapool/tx-signer/internal/test"
)

func TestGetNetworks(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/api/v1/networks", nil, test.AuthHeaders())
		require.Equal(t, http.StatusOK, res.Result().StatusCode)

		var response networks.GetNetworksResponse
		test.ParseResponseAndValidate(t, res, &response)

		require.Len(t, response.Networks, len(s.Chains.Networks()))
		for i := 1; i < len(response.Networks); i++ {
			assert.Less(t, response.Networks[i-1].NetworkID, response.Networks[i].NetworkID)
		}

		assert.NotContains(t, res.Body.String(), "rpcEndpoints")
	})
}

func TestGetNetwork(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/api/v1/networks/ETHEREUM", nil, test.AuthHeaders())
		require.Equal(t, http.StatusOK, res.Result().StatusCode)

		var item networks.NetworkItem
		test.ParseResponseAndValidate(t, res, &item)

		assert.Equal(t, "ETHEREUM", item.NetworkID)
		assert.Equal(t, chain.FamilyEVM, item.Family)
		assert.Equal(t, int64(1), item.ChainID)
		assert.Equal(t, "ETH", item.NativeSymbol)
		assert.Equal(t, int32(18), item.NativeDecimals)
		assert.False(t, item.IsTestnet)
	})
}

func TestGetNetworkUnknown(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/api/v1/networks/NOPE", nil, test.AuthHeaders())
		require.Equal(t, http.StatusNotFound, res.Result().StatusCode)
		assert.Contains(t, res.Body.String(), "NETWORK_NOT_FOUND")
	})
}

func TestGetNetworksRequiresAPIKey(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "GET", "/api/v1/networks", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.Result().StatusCode)

		h := http.Header{}
		h.Set("X-API-Key", "wrong")
		res = test.PerformRequest(t, s, "GET", "/api/v1/networks", nil, h)
		assert.Equal(t, http.StatusUnauthorized, res.Result().StatusCode)

		h.Set("X-API-Key", test.APIKey)
		res = test.PerformRequest(t, s, "GET", "/api/v1/networks", nil, h)
		assert.Equal(t, http.StatusOK, res.Result().StatusCode)
	})
}
