package attendance

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-checkable rejection reason.
type Kind string

const (
	KindUserNotFound        Kind = "USER_NOT_FOUND"
	KindAlreadyMarked       Kind = "ALREADY_MARKED"
	KindWindowClosed        Kind = "WINDOW_CLOSED"
	KindOutsideBoundary     Kind = "OUTSIDE_BOUNDARY"
	KindLocationUnavailable Kind = "LOCATION_UNAVAILABLE"
	KindBiometricFailed     Kind = "BIOMETRIC_FAILED"
	KindStoreError          Kind = "STORE_ERROR"
)

// Rejection is a typed check-in refusal. Every failure path of the
// engine returns one of these; nothing panics across the boundary.
type Rejection struct {
	Kind           Kind    `json:"kind"`
	Message        string  `json:"message"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	cause          error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func (r *Rejection) Unwrap() error { return r.cause }

// Retryable reports whether the caller may usefully retry today.
func (r *Rejection) Retryable() bool {
	return r.Kind == KindLocationUnavailable || r.Kind == KindStoreError
}

func reject(kind Kind, msg string) *Rejection {
	return &Rejection{Kind: kind, Message: msg}
}

func rejectStore(err error) *Rejection {
	return &Rejection{Kind: KindStoreError, Message: "attendance store error: " + err.Error(), cause: err}
}

// HTTPStatus maps an Evaluate error to a response status.
func HTTPStatus(err error) int {
	var r *Rejection
	if !errors.As(err, &r) {
		return http.StatusInternalServerError
	}
	switch r.Kind {
	case KindUserNotFound:
		return http.StatusNotFound
	case KindAlreadyMarked:
		return http.StatusConflict
	case KindWindowClosed, KindOutsideBoundary, KindBiometricFailed:
		return http.StatusForbidden
	case KindLocationUnavailable:
		return http.StatusUnprocessableEntity
	case KindStoreError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
