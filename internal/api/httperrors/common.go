package httperrors

import (
	"net/http"
)

var (
	ErrBadRequestMalformedBody = NewHTTPError(http.StatusBadRequest, "MALFORMED_BODY", "Request body could not be decoded.")
	ErrNotFoundNetwork         = NewHTTPError(http.StatusNotFound, "NETWORK_NOT_FOUND", "Network is not in the catalog.")
)
