package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind classifies an error for the orchestrator boundary. Classification
// is carried as a tagged value on the error itself so it stays portable
// across upstream client implementations.
type Kind string

const (
	// KindTransientUpstream marks upstream failures worth retrying
	// (503, 500, timeouts, connection errors).
	KindTransientUpstream Kind = "transient_upstream"
	// KindFatalUpstream marks upstream failures that retrying cannot fix
	// (quota exceeded, invalid argument, authentication).
	KindFatalUpstream Kind = "fatal_upstream"
	// KindParse marks a malformed upstream payload.
	KindParse Kind = "parse"
	// KindRateLimit marks a denied admission, local or global.
	KindRateLimit Kind = "rate_limit"
	// KindLockTimeout marks a lock-wait timeout; the caller degraded to
	// an unprotected call.
	KindLockTimeout Kind = "lock_timeout"
	// KindStoreUnavailable marks the shared store itself being unreachable.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindRetryExhausted marks a transient error that survived the whole
	// attempt budget.
	KindRetryExhausted Kind = "retry_exhausted"

	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// AppError represents an application error with classification and context
type AppError struct {
	Kind      Kind              `json:"kind"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new application error
func New(kind Kind, code, message string) *AppError {
	return &AppError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now().UTC(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors

func NewTransientUpstreamError(message string) *AppError {
	return New(KindTransientUpstream, "UPSTREAM_TRANSIENT", message)
}

func NewFatalUpstreamError(message string) *AppError {
	return New(KindFatalUpstream, "UPSTREAM_FATAL", message)
}

func NewParseError(message string) *AppError {
	return New(KindParse, "PARSE_ERROR", message)
}

func NewRateLimitError(message string) *AppError {
	return New(KindRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewLockTimeoutError(message string) *AppError {
	return New(KindLockTimeout, "LOCK_ACQUISITION_TIMEOUT", message)
}

func NewStoreUnavailableError(message string) *AppError {
	return New(KindStoreUnavailable, "STORE_UNAVAILABLE", message)
}

// NewRetryExhaustedError wraps the last underlying cause after the
// attempt budget is spent.
func NewRetryExhaustedError(attempts int, cause error) *AppError {
	return New(KindRetryExhausted, "RETRY_EXHAUSTED",
		fmt.Sprintf("operation failed after %d attempts", attempts)).
		WithDetail("attempts", fmt.Sprintf("%d", attempts)).
		WithCause(cause)
}

func NewValidationError(message string) *AppError {
	return New(KindValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return New(KindNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewInternalError(message string) *AppError {
	return New(KindInternal, "INTERNAL_ERROR", message)
}

// IsKind checks if the error (or any error in its chain) has the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsRetryable reports whether the error should be retried. Only transient
// upstream errors are; everything else propagates after the first attempt.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransientUpstream)
}

// IsNotFound checks for the not-found kind
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// GetKind returns the error kind, defaulting to internal for foreign errors
func GetKind(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}
