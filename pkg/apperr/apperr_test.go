package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "order not found")
	assert.Equal(t, KindNotFound, KindOf(err))

	wrapped := fmt.Errorf("handling event: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(KindValidation, "bad input")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(KindConflict, "duplicate payment")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(KindNotFound, "missing")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(New(KindUpstream, "catalog unreachable")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestMessageHidesInternals(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindUpstream, "product service unavailable", cause)

	assert.Equal(t, "product service unavailable", Message(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "Something went wrong", Message(cause))
}
