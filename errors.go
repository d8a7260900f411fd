package gowsc

import (
	"fmt"

	"github.com/kestrelws/gowsc/internal/closecode"
)

// ErrorCode is the wire-visible error taxonomy of spec.md §6/§7: a
// small set of connection-setup codes specific to this client, plus
// every RFC 6455 close code it can surface through the error
// callback alongside the matching close callback.
type ErrorCode int

const (
	ErrHandshake ErrorCode = 4001
	ErrDial      ErrorCode = 4002
	ErrTLS       ErrorCode = 4003
	ErrSend      ErrorCode = 4004
)

// Error is the structured error type returned synchronously from
// setup-time failures (SetURL, NewConn). The error callback does not
// receive an *Error; it is called with a numeric code and a message.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// WithContext attaches a key/value pair for diagnostics and returns e
// for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CloseCode re-exports the RFC 6455 close code type so callers never
// need to import an internal package to read a close callback's code.
type CloseCode = closecode.Code

// Close codes a caller may see in the close callback.
const (
	CloseNormal           = closecode.Normal
	CloseGoingAway        = closecode.GoingAway
	CloseProtocolError    = closecode.ProtocolError
	CloseUnsupportedData  = closecode.UnsupportedData
	CloseAbnormal         = closecode.Abnormal
	CloseInvalidPayload   = closecode.InvalidPayload
	ClosePolicyViolation  = closecode.PolicyViolation
	CloseMessageTooBig    = closecode.MessageTooBig
	CloseMissingExtension = closecode.MissingExtension
	CloseInternalError    = closecode.InternalError
)
