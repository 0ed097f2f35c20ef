package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewValidationError("field is required")
	assert.Equal(t, "VALIDATION_ERROR: field is required", err.Error())

	wrapped := NewStoreUnavailableError("store down").WithCause(fmt.Errorf("connection refused"))
	assert.Contains(t, wrapped.Error(), "STORE_UNAVAILABLE")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewInternalError("something failed").WithCause(cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(NewTransientUpstreamError("503"), KindTransientUpstream))
	assert.False(t, IsKind(NewTransientUpstreamError("503"), KindFatalUpstream))
	assert.False(t, IsKind(fmt.Errorf("plain error"), KindTransientUpstream))
	assert.False(t, IsKind(nil, KindTransientUpstream))
}

func TestIsKind_WrappedChain(t *testing.T) {
	inner := NewTransientUpstreamError("upstream flaked")
	outer := fmt.Errorf("request failed: %w", inner)
	assert.True(t, IsKind(outer, KindTransientUpstream))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient upstream", NewTransientUpstreamError("503"), true},
		{"fatal upstream", NewFatalUpstreamError("401"), false},
		{"quota exceeded", NewFatalUpstreamError("upstream quota exceeded (429)"), false},
		{"parse", NewParseError("bad json"), false},
		{"rate limit", NewRateLimitError("denied"), false},
		{"retry exhausted", NewRetryExhaustedError(4, NewTransientUpstreamError("503")), false},
		{"plain error", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestGetKind(t *testing.T) {
	assert.Equal(t, KindRateLimit, GetKind(NewRateLimitError("denied")))
	assert.Equal(t, KindInternal, GetKind(fmt.Errorf("foreign error")))
}

func TestNewRetryExhaustedError(t *testing.T) {
	cause := NewTransientUpstreamError("503")
	err := NewRetryExhaustedError(4, cause)

	assert.Equal(t, KindRetryExhausted, err.Kind)
	assert.Equal(t, "4", err.Details["attempts"])
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Message, "4 attempts")
}

func TestWithDetail(t *testing.T) {
	err := NewRateLimitError("denied").WithDetail("reset_in", "30s")
	assert.Equal(t, "30s", err.Details["reset_in"])
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("key")))
	assert.False(t, IsNotFound(NewInternalError("boom")))
}
