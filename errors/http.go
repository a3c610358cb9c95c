package errors

import (
	"errors"
	"net/http"
)

// MapToHTTPStatus picks the status code for a sentinel error.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConnectionClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
