package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{New(KindForbidden, "Forbidden"), http.StatusForbidden},
		{New(KindTooManyRequests, "slow down"), http.StatusTooManyRequests},
		{Invalid("bad"), http.StatusBadRequest},
		{Unauthorized("no"), http.StatusUnauthorized},
		{Conflict("taken"), http.StatusConflict},
		{New(KindBadGateway, "upstream"), http.StatusBadGateway},
		{Upstream(http.StatusTeapot, "tea"), http.StatusTeapot},
		{New(KindNotFound, "Not Found"), http.StatusNotFound},
		{New(KindMethodNotAllowed, "Method Not Allowed"), http.StatusMethodNotAllowed},
		{New(Kind("mystery"), "?"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus(), tt.err.Message)
	}
}

func TestIs_MatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("register: %w", Conflict("username already exists"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrInvalidInput))
}

func TestAs_UnclassifiedBecomesOpaqueInternal(t *testing.T) {
	cause := errors.New("disk on fire")
	e := As(fmt.Errorf("save: %w", cause))

	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, "Server Error", e.Message)
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus())
	assert.ErrorIs(t, e, cause)
}

func TestAs_KeepsClassifiedError(t *testing.T) {
	orig := Invalid("messages must be an array")
	e := As(fmt.Errorf("decode: %w", orig))
	assert.Same(t, orig, e)
}
