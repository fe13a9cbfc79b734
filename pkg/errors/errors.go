// Package errors provides typed errors with a machine-readable kind, used to
// map pool failures onto HTTP responses without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds for the address pool domain.
const (
	KindNoAddressAvailable     = "NoAddressAvailable"
	KindInvalidAmount          = "InvalidAmount"
	KindReservationNotFound    = "ReservationNotFound"
	KindAlreadyUsed            = "AlreadyUsed"
	KindDuplicateAddress       = "DuplicateAddress"
	KindInvalidAddressFormat   = "InvalidAddressFormat"
	KindConcurrentModification = "ConcurrentModification"
	KindAddressReserved        = "AddressReserved"
	KindInvalidTransition      = "InvalidTransition"
	KindNotFound               = "NotFound"
	KindInternal               = "Internal"
)

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	cause error
}

var _ error = (*Error)(nil)

// New creates an error with the given kind and message.
func New(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a copy of the error.
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches errors by kind so sentinels compare against wrapped copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInvalidAmount, KindInvalidAddressFormat:
		return http.StatusBadRequest
	case KindReservationNotFound, KindNotFound:
		return http.StatusNotFound
	case KindNoAddressAvailable, KindAlreadyUsed, KindDuplicateAddress,
		KindAddressReserved, KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel errors for the pool error taxonomy. ConcurrentModification is an
// internal signal only; the coordinator retries instead of surfacing it.
var (
	ErrNoAddressAvailable     = New(KindNoAddressAvailable, "no deposit address available")
	ErrInvalidAmount          = New(KindInvalidAmount, "requested amount must be positive")
	ErrReservationNotFound    = New(KindReservationNotFound, "reservation not found")
	ErrAlreadyUsed            = New(KindAlreadyUsed, "address is already used")
	ErrDuplicateAddress       = New(KindDuplicateAddress, "address already exists in pool")
	ErrInvalidAddressFormat   = New(KindInvalidAddressFormat, "not a valid bitcoin address")
	ErrConcurrentModification = New(KindConcurrentModification, "address state changed concurrently")
	ErrAddressReserved        = New(KindAddressReserved, "address is reserved")
	ErrInvalidTransition      = New(KindInvalidTransition, "invalid status transition")
)
