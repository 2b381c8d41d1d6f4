package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind enumerates the failure taxonomy shared by cart sync and checkout.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindEmptyCart        ErrorKind = "empty_cart"
	KindMalformedGateway ErrorKind = "malformed_gateway_response"
	KindMalformedCapture ErrorKind = "malformed_capture_response"
	KindBackendRejected  ErrorKind = "backend_rejected"
	KindCartFailure      ErrorKind = "cart_failure"
	KindUserCancelled    ErrorKind = "user_cancelled"
	KindStorage          ErrorKind = "storage"
	KindUnknown          ErrorKind = "unknown"
)

// Error is a classified failure. Status and Body are set for remote rejections.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Body   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch e.Kind {
	case KindBackendRejected:
		fmt.Fprintf(&b, "backend rejected request with status %d", e.Status)
		if body := strings.TrimSpace(e.Body); body != "" {
			b.WriteString(": ")
			b.WriteString(body)
		}
	case KindEmptyCart:
		b.WriteString("no items in cart")
	case KindMalformedGateway:
		b.WriteString("payment order created but order format is unexpected")
	case KindMalformedCapture:
		b.WriteString("capture response is missing purchase_units[0].payments.captures[0]")
	case KindUserCancelled:
		b.WriteString("payment cancelled by user")
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Reason != "" && e.Kind != KindBackendRejected {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so sentinels like ErrEmptyCart work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Op == "" && other.Err == nil && other.Status == 0 && other.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrEmptyCart        = &Error{Kind: KindEmptyCart}
	ErrMalformedGateway = &Error{Kind: KindMalformedGateway}
	ErrMalformedCapture = &Error{Kind: KindMalformedCapture}
	ErrBackendRejected  = &Error{Kind: KindBackendRejected}
	ErrCartFailure      = &Error{Kind: KindCartFailure}
	ErrUserCancelled    = &Error{Kind: KindUserCancelled}
	ErrStorage          = &Error{Kind: KindStorage}
)

// NetworkError wraps a transport failure.
func NetworkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// BackendRejected records a non-success response from the commerce API.
func BackendRejected(op string, status int, body string) *Error {
	return &Error{Kind: KindBackendRejected, Op: op, Status: status, Body: body}
}

// CartFailure records a rejected cart mutation with the server's reason.
func CartFailure(op string, status int, reason string) *Error {
	return &Error{Kind: KindCartFailure, Op: op, Status: status, Reason: reason}
}

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindUnknown
}
