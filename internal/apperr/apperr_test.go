package apperr

import (
	"errors"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad"), http.StatusBadRequest},
		{"not found", NotFound("missing"), http.StatusNotFound},
		{"forbidden", Forbidden("nope"), http.StatusForbidden},
		{"unauthorized", Unauthorized("who"), http.StatusUnauthorized},
		{"exhausted", Exhausted("slow down"), http.StatusTooManyRequests},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"transient", Transient("store", errors.New("conn reset")), http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestFrom_UnwrapsWrappedErrors(t *testing.T) {
	base := NotFound("session not found")
	wrapped := pkgerrors.Wrap(base, "end session")

	ae := From(wrapped)
	assert.Equal(t, CodeNotFound, ae.Code)
	assert.True(t, errors.Is(wrapped, NotFound("")))
	assert.False(t, errors.Is(wrapped, Forbidden("")))
}

func TestTransientIsRetryable(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("persist message", cause)

	ae := From(err)
	assert.True(t, ae.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.False(t, From(Validation("x")).Retryable)
}
