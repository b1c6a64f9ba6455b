// Package apperr classifies failures of the matching and acceptance flows so
// the HTTP boundary can map them to a status without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNoRoute
	KindMalformedPolyline
	KindNotFound
	KindConflict
	KindTransactionAborted
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNoRoute:
		return "no_route"
	case KindMalformedPolyline:
		return "malformed_polyline"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransactionAborted:
		return "transaction_aborted"
	case KindUnavailable:
		return "collaborator_unavailable"
	default:
		return "internal"
	}
}

// Error is a classified failure. Code narrows a kind (e.g. which lookup
// failed) and Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target with a Code only
// matches errors carrying that code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindNoRoute, KindMalformedPolyline:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrValidation              = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrNoRouteFound            = &Error{Kind: KindNoRoute, Message: "no path found"}
	ErrMalformedPolyline       = &Error{Kind: KindMalformedPolyline, Message: "malformed polyline"}
	ErrNotFoundOrInvalidState  = &Error{Kind: KindNotFound, Message: "not found"}
	ErrTransactionAborted      = &Error{Kind: KindTransactionAborted, Message: "transaction aborted"}
	ErrCollaboratorUnavailable = &Error{Kind: KindUnavailable, Message: "upstream service unavailable"}

	ErrRequestNotPending = &Error{Kind: KindNotFound, Code: "ride_request_not_pending", Message: "ride request not found or not in pending state"}
	ErrDriverNotFound    = &Error{Kind: KindNotFound, Code: "driver_not_found", Message: "driver not found"}
	ErrRideNotFound      = &Error{Kind: KindNotFound, Code: "ride_not_found", Message: "ride not found"}
	ErrVehicleNotFound   = &Error{Kind: KindNotFound, Code: "vehicle_not_found", Message: "vehicle not found"}
	ErrPassengerNotFound = &Error{Kind: KindNotFound, Code: "passenger_not_found", Message: "passenger not found"}
	ErrNoSeatsAvailable  = &Error{Kind: KindConflict, Code: "no_seats_available", Message: "no seats available on ride"}
)

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "validation", Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a copy of the sentinel so errors.Is keeps working
// against both.
func Wrap(sentinel *Error, cause error) *Error {
	cp := *sentinel
	cp.Err = cause
	return &cp
}

func Aborted(cause error) *Error { return Wrap(ErrTransactionAborted, cause) }

func Unavailable(collaborator string, cause error) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Code:    collaborator,
		Message: collaborator + " unavailable",
		Err:     cause,
	}
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
