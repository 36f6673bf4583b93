package router

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ErrorShorthands(t *testing.T) {
	tcs := []struct {
		got  JsonError
		code int
	}{
		{BadRequest("bad"), http.StatusBadRequest},
		{Unauthorized("who"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
	}
	for _, tc := range tcs {
		assert.Equal(t, tc.code, tc.got.StatusCode())
		assert.NotEmpty(t, tc.got.Error())
	}
}

func Test_ErrorMapper(t *testing.T) {
	router := New()

	tcs := []struct {
		err    error
		mapper ErrorMapper
		exp    JsonError
	}{
		{
			err: errors.New("custom error"),
			mapper: func(err error) Error {
				return JsonError{
					Code: 400,
					Err:  err.Error(),
				}
			},
			exp: JsonError{
				Code: 400,
				Err:  "custom error",
			},
		},
		{
			err:    errors.New("random error"),
			mapper: nil,
			exp:    router.defaultError,
		},
		{
			err: JsonError{
				Code: 400,
				Err:  "API Error",
			},
			mapper: nil,
			exp: JsonError{
				Code: 400,
				Err:  "API Error",
			},
		},
	}

	for _, tc := range tcs {
		if tc.mapper != nil {
			router.RegisterErrorMapper(tc.err, tc.mapper)
		}
		got := router.mapError(tc.err)
		assert.Equal(t, tc.exp, got)
	}
}
