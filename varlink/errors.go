package varlink

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an engine failure. The numeric values mirror the
// canonical varlink error enum; ErrorString maps them to the capitalized
// identifiers used on the wire for engine-originated error replies.
type ErrorCode int

const (
	ErrPanic ErrorCode = iota + 1
	ErrInvalidInterface
	ErrInvalidAddress
	ErrInvalidIdentifier
	ErrInvalidType
	ErrInterfaceNotFound
	ErrMethodNotFound
	ErrCannotConnect
	ErrCannotListen
	ErrCannotAccept
	ErrSendingMessage
	ErrReceivingMessage
	ErrInvalidIndex
	ErrUnknownField
	ErrReadOnly
	ErrInvalidJson
	ErrInvalidMessage
	ErrInvalidCall
	ErrAccessDenied
	ErrConnectionClosed
	errMax
)

var errorStrings = [errMax]string{
	ErrPanic:             "Panic",
	ErrInvalidInterface:  "InvalidInterface",
	ErrInvalidAddress:    "InvalidAddress",
	ErrInvalidIdentifier: "InvalidIdentifier",
	ErrInvalidType:       "InvalidType",
	ErrInterfaceNotFound: "InterfaceNotFound",
	ErrMethodNotFound:    "MethodNotFound",
	ErrCannotConnect:     "CannotConnect",
	ErrCannotListen:      "CannotListen",
	ErrCannotAccept:      "CannotAccept",
	ErrSendingMessage:    "SendingMessage",
	ErrReceivingMessage:  "ReceivingMessage",
	ErrInvalidIndex:      "InvalidIndex",
	ErrUnknownField:      "UnknownField",
	ErrReadOnly:          "ReadOnly",
	ErrInvalidJson:       "InvalidJson",
	ErrInvalidMessage:    "InvalidMessage",
	ErrInvalidCall:       "InvalidCall",
	ErrAccessDenied:      "AccessDenied",
	ErrConnectionClosed:  "ConnectionClosed",
}

// ErrorString translates an error code into its identifier string.
// Codes outside the table return "<invalid>", codes inside the table
// without an assigned name return "<missing>".
func ErrorString(code ErrorCode) string {
	if code <= 0 || code >= errMax {
		return "<invalid>"
	}
	if errorStrings[code] == "" {
		return "<missing>"
	}
	return errorStrings[code]
}

func (c ErrorCode) String() string {
	return ErrorString(c)
}

// Error is an engine failure, optionally wrapping the OS-level cause.
type Error struct {
	Code  ErrorCode
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("varlink: %s: %s", ErrorString(e.Code), e.cause)
	}
	return "varlink: " + ErrorString(e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is makes errors.Is match two engine errors by code alone.
func (e *Error) Is(target error) bool {
	var ve *Error
	if errors.As(target, &ve) {
		return ve.Code == e.Code
	}
	return false
}

func newError(code ErrorCode) *Error {
	return &Error{Code: code}
}

func wrapError(code ErrorCode, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// IsError reports whether err carries the given engine error code.
func IsError(err error, code ErrorCode) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Code == code
}

// CallError is a named error reply received from the peer.
type CallError struct {
	Name       string
	Parameters *Object
}

func (e *CallError) Error() string {
	return e.Name
}
