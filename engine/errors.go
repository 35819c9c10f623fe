package engine

import (
	"errors"
	"net/http"

	"floorview/client"
	"floorview/layout"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrSaveFailed    = errors.New("failed to save config")

	ErrNoDevice  = errors.New("no device open")
	ErrForbidden = errors.New("not allowed for this role")
	ErrClosed    = errors.New("console closed")
)

// HTTPStatus maps engine, layout and backend errors to the status code the
// HTTP front-ends answer with. Backend failures become 502.
func HTTPStatus(err error) int {
	var apiErr *client.APIError
	var tErr *client.TransportError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, layout.ErrEditModeDisabled),
		errors.Is(err, ErrNoDevice):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, client.ErrNoteTooShort):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden), errors.Is(err, layout.ErrNotEditable):
		return http.StatusForbidden
	case errors.Is(err, ErrClosed):
		return http.StatusGone
	case errors.As(err, &apiErr), errors.As(err, &tErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
