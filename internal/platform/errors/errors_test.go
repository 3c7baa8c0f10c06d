package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("page must be a positive integer")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "page must be a positive integer")
}

func TestUnauthorizedError_HasGenericMessage(t *testing.T) {
	err := UnauthorizedError(errors.New("refresh token revoked"))

	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
	assert.Equal(t, "Unauthorized", err.ToResponse().Error)
	assert.NotContains(t, err.ToResponse().Error, "revoked")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ForbiddenError("cross-origin request rejected"), http.StatusForbidden},
		{NotFoundError("clip not found"), http.StatusNotFound},
		{UnavailableError("refresh in progress", nil), http.StatusServiceUnavailable},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{ExternalError("twitch down", nil), http.StatusBadGateway},
		{&Error{Type: "unknown"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestWithField(t *testing.T) {
	err := ValidationError("invalid").WithField("field", "limit").WithField("value", "abc")

	assert.Equal(t, "limit", err.Context["field"])
	assert.Equal(t, "abc", err.Context["value"])

	resp := err.ToResponse()
	assert.Equal(t, "invalid", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "limit", resp.Context["field"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeInternal, Message: "x"}
	err.WithField("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := ExternalError("upstream failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured through wrapping", func(t *testing.T) {
		orig := NotFoundError("channel not found")
		wrapped := fmt.Errorf("handler: %w", orig)

		got := AsStructuredError(wrapped)
		require.NotNil(t, got)
		assert.Same(t, orig, got)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		cause := errors.New("boom")
		got := AsStructuredError(cause)

		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.Equal(t, cause, got.Cause)
	})
}
