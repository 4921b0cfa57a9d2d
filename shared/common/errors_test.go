package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_StatusAndRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		status    int
		retryable bool
	}{
		{"not found", ErrNotFound("system", "sys-1"), http.StatusNotFound, false},
		{"invalid input", ErrInvalidInput("methods", "unknown detector"), http.StatusBadRequest, false},
		{"invalid state", ErrInvalidState("resolved", "acknowledged"), http.StatusConflict, false},
		{"store", ErrStoreUnavailable("upsert posture", errors.New("conn refused")), http.StatusServiceUnavailable, true},
		{"external", ErrExternalService("collector", errors.New("timeout")), http.StatusServiceUnavailable, true},
		{"internal", ErrInternal(""), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestGetAppError_ThroughWrapping(t *testing.T) {
	base := ErrNotFound("drift", "d-1")
	wrapped := fmt.Errorf("acknowledge: %w", base)

	appErr := GetAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeNotFound, appErr.Code)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrCodeInternal, "x"))

	cause := errors.New("boom")
	err := WrapError(cause, ErrCodeStoreUnavailable, "insert drift")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, HasErrorCode(err, ErrCodeStoreUnavailable))

	existing := ErrInvalidInput("model", "empty")
	assert.Same(t, existing, WrapError(existing, ErrCodeInternal, "ignored"))
}
