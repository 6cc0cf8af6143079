package probe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/api"
	"github/chapool/tx-signer/internal/test"
)

func TestReadyURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080/-/ready", readyURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000/-/ready", readyURL("0.0.0.0:9000"))
	assert.Equal(t, "http://signer.local:8080/-/ready", readyURL("signer.local:8080"))
}

func TestReadinessAgainstTestServer(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		srv := httptest.NewServer(s.Echo)
		defer srv.Close()

		require.NoError(t, readiness(t.Context(), srv.Client(), srv.URL+"/-/ready", false))

		s.Seeds.Clear()
		err := readiness(t.Context(), srv.Client(), srv.URL+"/-/ready", false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "521")
	})
}

func TestReadinessUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/-/ready"
	srv.Close()

	require.Error(t, readiness(t.Context(), http.DefaultClient, url, false))
}

func TestLiveness(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		require.NoError(t, liveness(t.Context(), s, false))

		require.NoError(t, s.DB.Close())
		require.Error(t, liveness(t.Context(), s, false))
	})
}
