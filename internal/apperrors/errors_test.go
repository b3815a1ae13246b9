package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidationError_SetsCodeAndStatus(t *testing.T) {
	err := NewValidationError("bad input", map[string]any{"field": "port"})
	assert.Equal(t, ErrorCodeValidationError, err.Code)
	assert.Equal(t, 400, err.StatusCode)
	assert.Equal(t, "bad input", err.Error())
}

func TestNewUnauthorizedError_DefaultsToUnauthorizedCode(t *testing.T) {
	err := NewUnauthorizedError("missing token")
	assert.Equal(t, ErrorCodeUnauthorized, err.Code)
	assert.Equal(t, 401, err.StatusCode)
}

func TestNewUnauthorizedError_AcceptsOverrideCode(t *testing.T) {
	err := NewUnauthorizedError("token has expired", ErrorCodeAuthTokenExpired)
	assert.Equal(t, ErrorCodeAuthTokenExpired, err.Code)
}

func TestStripeErrorBody_MapsStatusToType(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorType
	}{
		{401, ErrorTypeAuthError},
		{403, ErrorTypeAuthError},
		{400, ErrorTypeInvalidRequest},
		{404, ErrorTypeInvalidRequest},
		{500, ErrorTypeAPIError},
	}
	for _, tc := range cases {
		err := NewAppError(ErrorCodeInternalError, "x", tc.status, nil)
		assert.Equal(t, tc.want, err.StripeErrorBody().Type)
	}
}

func TestEnsureAppError_PassesThroughAppError(t *testing.T) {
	original := NewNotFoundError("speaker not found", nil)
	got := EnsureAppError(original)
	assert.Same(t, original, got)
}

func TestEnsureAppError_WrapsPlainError(t *testing.T) {
	got := EnsureAppError(errors.New("boom"))
	assert.Equal(t, ErrorCodeInternalError, got.Code)
	assert.Equal(t, 500, got.StatusCode)
}

func TestEnsureAppError_NilBecomesInternalError(t *testing.T) {
	got := EnsureAppError(nil)
	assert.Equal(t, ErrorCodeInternalError, got.Code)
}
