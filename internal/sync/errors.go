package sync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a record type failed to synchronize
type ErrorKind string

const (
	// KindNoConnectivity means no network was available when the type was attempted
	KindNoConnectivity ErrorKind = "no-connectivity"

	// KindTransferFailed means the bulk request failed or the remote rejected it
	KindTransferFailed ErrorKind = "transfer-failed"

	// KindStorageFailed means the watermark could not be written after a transfer
	KindStorageFailed ErrorKind = "storage-failed"

	// KindUnexpected covers anything else, including selection failures and
	// recovered panics
	KindUnexpected ErrorKind = "unexpected"
)

// unknownErrorMessage is reported when a failure carries no message of its own
const unknownErrorMessage = "unknown error"

// ErrNoConnectivity is the cause of every KindNoConnectivity error
var ErrNoConnectivity = errors.New("no internet connection available")

// Error is the structured failure of one record type's attempt
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func noConnectivityError() *Error {
	return &Error{Kind: KindNoConnectivity, Message: ErrNoConnectivity.Error(), Err: ErrNoConnectivity}
}

func newError(kind ErrorKind, err error) *Error {
	msg := unknownErrorMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// recoveredError converts a recovered panic value into an Error
func recoveredError(r any) *Error {
	switch v := r.(type) {
	case error:
		return newError(KindUnexpected, v)
	case string:
		if v == "" {
			return newError(KindUnexpected, nil)
		}
		return newError(KindUnexpected, errors.New(v))
	case fmt.Stringer:
		return newError(KindUnexpected, errors.New(v.String()))
	default:
		return newError(KindUnexpected, nil)
	}
}
