package envelope

import (
	"errors"
	"fmt"
)

// ErrNetworkUnavailable is the cause of a transport failure when the target is not reachable
// and the request has not been sent at all.
var ErrNetworkUnavailable = errors.New("network unavailable")

// TransportError - the request did not produce a usable response: connection failure, timeout or cancellation.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return "transport failed"
	}
	return fmt.Sprintf("transport failed: %s", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ParseReason describes why the response envelope cannot be parsed.
type ParseReason int

const (
	// ReasonFormInvalid - the body is missing or it is not an object.
	ReasonFormInvalid ParseReason = iota
	// ReasonCodeNotFound - the code field is missing or it is not an integer.
	ReasonCodeNotFound
	// ReasonMessageNotFound is reserved for custom parsers, the default parser uses an empty message instead.
	ReasonMessageNotFound
	// ReasonPayloadNotFound - the code is successful, but the payload field is missing.
	ReasonPayloadNotFound
)

func (r ParseReason) String() string {
	switch r {
	case ReasonFormInvalid:
		return "invalid envelope form"
	case ReasonCodeNotFound:
		return "code field not found"
	case ReasonMessageNotFound:
		return "message field not found"
	case ReasonPayloadNotFound:
		return "payload field not found"
	default:
		return fmt.Sprintf("ParseReason(%d)", int(r))
	}
}

// Code returns sentinel code of the reason.
func (r ParseReason) Code() int {
	switch r {
	case ReasonFormInvalid:
		return CodeFormInvalid
	case ReasonCodeNotFound, ReasonMessageNotFound:
		return CodeCodeNotFound
	default:
		return CodePayloadNotFound
	}
}

// ParseError - the response was received, but it does not match the expected envelope shape.
type ParseError struct {
	Reason ParseReason
	// Field is the name of the missing or invalid field, if any.
	Field string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cannot parse response: %s", e.Reason)
	}
	return fmt.Sprintf(`cannot parse response: %s: "%s"`, e.Reason, e.Field)
}

// BusinessError - the envelope is valid, but the server signalled a failure by a non-success code.
type BusinessError struct {
	Code    int
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned code %d", e.Code)
	}
	return fmt.Sprintf(`server returned code %d: %s`, e.Code, e.Message)
}

// IsTransport returns true if the error is or wraps a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsParse returns true if the error is or wraps a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsBusiness returns true if the error is or wraps a BusinessError.
func IsBusiness(err error) bool {
	var target *BusinessError
	return errors.As(err, &target)
}
