package errors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure reported to callers of the license API
type ErrorKind string

const (
	// KindInvalidKey means the code is unknown
	KindInvalidKey ErrorKind = "INVALID_KEY"
	// KindAlreadyUsed means the code was redeemed before or a concurrent redeemer won
	KindAlreadyUsed ErrorKind = "ALREADY_USED"
	// KindStorageUnavailable is a transient I/O failure; re-check state before retrying
	KindStorageUnavailable ErrorKind = "STORAGE_UNAVAILABLE"
	// KindEntitlementWriteFailed means the key was consumed but the entitlement was not recorded
	KindEntitlementWriteFailed ErrorKind = "ENTITLEMENT_WRITE_FAILED"
	// KindInvalidRequest is a precondition violation by the caller
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	// KindRateLimited means the subject exceeded its redemption rate
	KindRateLimited ErrorKind = "RATE_LIMITED"
	// KindInternal is anything unclassified
	KindInternal ErrorKind = "INTERNAL"
)

// AppError represents an application-specific error
type AppError struct {
	Kind    ErrorKind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel error of the same kind, so callers can write
// errors.Is(err, ErrAlreadyUsed) regardless of the message.
func (e *AppError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(kind ErrorKind, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewInvalidKeyError creates an unknown-code error
func NewInvalidKeyError(message string) *AppError {
	return NewAppError(KindInvalidKey, message, nil)
}

// NewAlreadyUsedError creates an already-redeemed error
func NewAlreadyUsedError(message string, cause error) *AppError {
	return NewAppError(KindAlreadyUsed, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(KindStorageUnavailable, message, cause)
}

// NewEntitlementWriteError creates a reconciliation anomaly error
func NewEntitlementWriteError(message string, cause error) *AppError {
	return NewAppError(KindEntitlementWriteFailed, message, cause)
}

// NewInvalidRequestError creates a validation error
func NewInvalidRequestError(message string, cause error) *AppError {
	return NewAppError(KindInvalidRequest, message, cause)
}

// NewRateLimitedError creates a rate limit error
func NewRateLimitedError(message string) *AppError {
	return NewAppError(KindRateLimited, message, nil)
}

// KindOf returns the kind of err, or an empty kind for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry after re-checking state.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorageUnavailable
}
