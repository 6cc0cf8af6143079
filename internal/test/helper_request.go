package test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/api"
)

type GenericPayload map[string]interface{}

// PerformRequest runs a request against the echo instance of s without a network listener.
// body is sent as JSON unless it already is an io.Reader.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body interface{}, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}

// AuthHeaders carries the test management API key.
func AuthHeaders() http.Header {
	h := http.Header{}
	h.Set(echo.HeaderAuthorization, "Bearer "+APIKey)

	return h
}

// ParseResponseAndValidate decodes the recorded JSON body into v.
func ParseResponseAndValidate(t *testing.T, res *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	require.NoError(t, json.NewDecoder(res.Body).Decode(v), "failed to decode response body: %s", res.Body.String())
}
