package router

import (
	"encoding/json"
	"io"
	"net/http"
)

// Error is what a failed handler resolves to: a status code plus a body
// the router knows how to write.
type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// JsonError is the standard error body, {"code": <status>, "error": <msg>}.
type JsonError struct {
	Code int    `json:"code"`
	Err  string `json:"error"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

// Shorthands for the common API failures.

func BadRequest(err string) JsonError {
	return NewJsonError(http.StatusBadRequest, err)
}

func Unauthorized(err string) JsonError {
	return NewJsonError(http.StatusUnauthorized, err)
}

func Forbidden(err string) JsonError {
	return NewJsonError(http.StatusForbidden, err)
}

func NotFound(err string) JsonError {
	return NewJsonError(http.StatusNotFound, err)
}

func Conflict(err string) JsonError {
	return NewJsonError(http.StatusConflict, err)
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}
