package httperrors

import (
	"net/http"

	"github/chapool/tx-signer/internal/signing"
)

// StatusForCode maps a signing error code to the management API status.
func StatusForCode(code signing.Code) int {
	switch code {
	case signing.CodeInvalidRequest, signing.CodeInvalidKeyShare, signing.CodeUnsupportedNetwork, signing.CodeUnsupportedProtocol:
		return http.StatusBadRequest
	case signing.CodeNotSupported, signing.CodeInsufficientFunds, signing.CodeDustAmount:
		return http.StatusUnprocessableEntity
	case signing.CodeTransientRPC:
		return http.StatusBadGateway
	case signing.CodeTimeout:
		return http.StatusGatewayTimeout
	case signing.CodeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromSigningError converts err into an HTTPError typed by its signing code.
// Internal failures keep their message out of the response.
func FromSigningError(err error) *HTTPError {
	code := signing.CodeOf(err)
	status := StatusForCode(code)

	e := NewHTTPError(status, string(code), http.StatusText(status))
	e.Internal = err
	if status < http.StatusInternalServerError || code == signing.CodeConfiguration {
		e.Detail = err.Error()
	}

	return e
}
