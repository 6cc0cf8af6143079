package signing

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github/chapool/tx-signer/internal/signing/chain"
)

// Code classifies a signing failure. Codes are part of the envelope contract.
type Code string

const (
	CodeConfiguration       Code = "CONFIGURATION_ERROR"
	CodeUnsupportedNetwork  Code = "UNSUPPORTED_NETWORK"
	CodeUnsupportedProtocol Code = "UNSUPPORTED_PROTOCOL"
	CodeNotSupported        Code = "NOT_SUPPORTED"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeDustAmount          Code = "DUST_AMOUNT"
	CodeSignatureValidation Code = "SIGNATURE_VALIDATION_FAILED"
	CodeTransientRPC        Code = "TRANSIENT_RPC_ERROR"
	CodeKeyReconstruction   Code = "KEY_RECONSTRUCTION_ERROR"
	CodeInvalidKeyShare     Code = "INVALID_KEY_SHARE"
	CodeTimeout             Code = "TIMEOUT"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is a coded signing failure. Two errors match with errors.Is when their codes match
// and the target carries no message.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == e.Code && t.Msg == "" && t.Err == nil
}

var (
	ErrConfiguration       = &Error{Code: CodeConfiguration}
	ErrUnsupportedNetwork  = &Error{Code: CodeUnsupportedNetwork}
	ErrUnsupportedProtocol = &Error{Code: CodeUnsupportedProtocol}
	ErrNotSupported        = &Error{Code: CodeNotSupported}
	ErrInvalidRequest      = &Error{Code: CodeInvalidRequest}
	ErrInsufficientFunds   = &Error{Code: CodeInsufficientFunds}
	ErrDustAmount          = &Error{Code: CodeDustAmount}
	ErrSignatureValidation = &Error{Code: CodeSignatureValidation}
	ErrTransientRPC        = &Error{Code: CodeTransientRPC}
	ErrKeyReconstruction   = &Error{Code: CodeKeyReconstruction}
	ErrInvalidKeyShare     = &Error{Code: CodeInvalidKeyShare}
	ErrTimeout             = &Error{Code: CodeTimeout}
)

func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func WrapError(err error, code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// NotSupported reports that family does not implement op.
func NotSupported(family chain.Family, op Operation) *Error {
	return NewError(CodeNotSupported, "%s does not support %s", family, op)
}

// Configuration reports a missing or invalid setting needed by a strategy.
func Configuration(format string, args ...any) *Error {
	return NewError(CodeConfiguration, format, args...)
}

// Transient wraps a node, bundler or explorer failure that may succeed on retry.
func Transient(err error, msg string) *Error {
	return WrapError(err, CodeTransientRPC, msg)
}

// CodeOf classifies err. Unknown errors are internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}

	switch {
	case errors.Is(err, chain.ErrUnsupportedNetwork):
		return CodeUnsupportedNetwork
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransientRPC
}
