package signing

import (
	"reflect"

	"github.com/pkg/errors"
)

// EnvelopeError is the reported form of a failed request.
type EnvelopeError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Envelope is returned for every request. Exactly one of SignedTransaction and Error is set.
// BundlerURL or RPCURL names the endpoint that must receive the payload.
type Envelope struct {
	TransactionID     string         `json:"transactionId"`
	RPCURL            string         `json:"rpcUrl,omitempty"`
	BundlerURL        string         `json:"bundlerUrl,omitempty"`
	EntryPointAddress string         `json:"entryPointAddress,omitempty"`
	SignedTransaction any            `json:"signedTransaction"`
	Error             *EnvelopeError `json:"error"`
}

func NewRPCEnvelope(transactionID string, rpcURL string, payload any) *Envelope {
	return &Envelope{
		TransactionID:     transactionID,
		RPCURL:            rpcURL,
		SignedTransaction: payload,
	}
}

func NewBundlerEnvelope(transactionID string, bundlerURL string, entryPoint string, payload any) *Envelope {
	return &Envelope{
		TransactionID:     transactionID,
		BundlerURL:        bundlerURL,
		EntryPointAddress: entryPoint,
		SignedTransaction: payload,
	}
}

func NewErrorEnvelope(transactionID string, err error) *Envelope {
	if err == nil {
		err = NewError(CodeInternal, "missing error")
	}

	return &Envelope{
		TransactionID: transactionID,
		Error: &EnvelopeError{
			Code:    CodeOf(err),
			Message: err.Error(),
		},
	}
}

// Succeeded reports whether the envelope carries a signed payload.
func (e *Envelope) Succeeded() bool {
	return e != nil && e.Error == nil && !isNil(e.SignedTransaction)
}

// Validate enforces the exclusivity between payload and error.
func (e *Envelope) Validate() error {
	if e == nil {
		return errors.New("nil envelope")
	}

	hasPayload := !isNil(e.SignedTransaction)
	hasError := e.Error != nil

	switch {
	case hasPayload && hasError:
		return errors.New("envelope carries both a signed transaction and an error")
	case !hasPayload && !hasError:
		return errors.New("envelope carries neither a signed transaction nor an error")
	case hasPayload && e.RPCURL == "" && e.BundlerURL == "":
		return errors.New("signed envelope has no broadcast endpoint")
	}

	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
