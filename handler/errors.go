package handler

import (
	"errors"
	"net/http"
)

// ErrNilResponse is reported when a handler returns a nil Response.
var ErrNilResponse = errors.New("handler returned nil response")

// HTTPError carries the status code and client-facing message for an error.
// Err, when set, is logged but never shown to the client.
type HTTPError struct {
	Code int
	Key  string
	Err  error
}

func (e HTTPError) Error() string {
	if e.Err != nil {
		return e.Key + ": " + e.Err.Error()
	}
	return e.Key
}

func (e HTTPError) Unwrap() error { return e.Err }

// Wrap returns a copy of e carrying err as its cause.
func (e HTTPError) Wrap(err error) HTTPError {
	e.Err = err
	return e
}

var (
	ErrBadRequest   = HTTPError{Code: http.StatusBadRequest, Key: "bad request"}
	ErrUnauthorized = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrForbidden    = HTTPError{Code: http.StatusForbidden, Key: "forbidden"}
	ErrNotFound     = HTTPError{Code: http.StatusNotFound, Key: "not found"}
	ErrInternal     = HTTPError{Code: http.StatusInternalServerError, Key: "internal server error"}
)

// BadRequest builds a 400 error with a specific message.
func BadRequest(msg string) HTTPError {
	return HTTPError{Code: http.StatusBadRequest, Key: msg}
}
