package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/rwclient/internal/service"
)

// Sentinel errors for control plane operations.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
)

// statusFor maps an operation error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, service.ErrUnknownMode),
		errors.Is(err, service.ErrUnknownTag):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, service.ErrRequestFailed),
		errors.Is(err, service.ErrUnableToPlay):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
