// Package chaterrors defines the error taxonomy shared by the store,
// the REST surface and the blob boundary. Callers classify with
// errors.Is against the exported kinds.
package chaterrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation covers malformed input: empty content, self-messaging,
	// over-long text. Never retried.
	ErrValidation = errors.New("validation")

	// ErrNotFound covers missing receivers and missing messages.
	ErrNotFound = errors.New("not found")

	// ErrPermission covers edit/delete-for-everyone by a non-sender and
	// mutations by non-participants.
	ErrPermission = errors.New("permission denied")

	// ErrConflict covers mutations against a tombstoned message.
	ErrConflict = errors.New("conflict")

	// ErrUpload covers blob store failures; message creation aborts.
	ErrUpload = errors.New("upload failed")
)

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

func Permissionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrPermission, args)...)
}

func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrConflict, args)...)
}

// Upload wraps a blob store failure with its underlying cause.
func Upload(cause error, msg string) error {
	return fmt.Errorf("%w: %s: %v", ErrUpload, msg, cause)
}

func prepend(err error, args []interface{}) []interface{} {
	return append([]interface{}{err}, args...)
}

// HTTPStatus maps an error to the status code the REST surface returns.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
