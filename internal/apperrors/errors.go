// Package apperrors defines the error kinds the control plane surfaces
// to HTTP callers and uses internally to decide pipeline terminal states.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and pipeline handling.
type Kind int

const (
	KindValidation Kind = iota // 400: malformed request, illegal transition
	KindUnauthorized
	KindNotFound
	KindConflict        // 409: is_locked
	KindPayloadTooLarge // 413
	KindPlatformBlocked // 503: read-only, capacity, concurrency
	KindSandbox         // 500: provider create/kill/connect failure
	KindIntegration     // 500 or logged-only: AI, vector index, wisdom, gateway
	KindInternal
)

// Error is a kind-tagged error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kind-tagged error with a caller-facing message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error      { return New(KindValidation, msg) }
func Unauthorized(msg string) *Error    { return New(KindUnauthorized, msg) }
func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func Conflict(msg string) *Error        { return New(KindConflict, msg) }
func PayloadTooLarge(msg string) *Error { return New(KindPayloadTooLarge, msg) }
func PlatformBlocked(msg string) *Error { return New(KindPlatformBlocked, msg) }

// KindOf extracts the kind from an error chain. Untagged errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindPlatformBlocked:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fatal reports whether a pipeline-stage error must fail the deployment.
// Integration errors past the build stage degrade features but never
// abort the run.
func Fatal(err error) bool {
	return KindOf(err) != KindIntegration
}
