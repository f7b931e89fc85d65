package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatStorage    ErrorCategory = "storage"    // I/O failure, filesystem full
	ErrCatNotFound   ErrorCategory = "not_found"  // Report missing or already moved
	ErrCatConsent    ErrorCategory = "consent"    // Data collection token invalid or revoked
	ErrCatUpload     ErrorCategory = "upload"     // Network or server rejection
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatState      ErrorCategory = "state"      // Illegal lifecycle transition
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrStorage creates a storage error. Storage errors are retried by the
// caller at the operation boundary.
func ErrStorage(op string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      CodeStorageFailed,
		Message:   op,
		Retryable: true,
		Cause:     cause,
	}
}

// ErrStorageFull creates an error for a filesystem without enough free space.
func ErrStorageFull(dir string, free, required uint64) *DomainError {
	return &DomainError{
		Category:  ErrCatStorage,
		Code:      CodeStorageFull,
		Message:   fmt.Sprintf("%s has %d bytes free, %d required", dir, free, required),
		Retryable: true,
		Details: map[string]interface{}{
			"free":     free,
			"required": required,
		},
	}
}

// ErrNotFound creates a not found error for a report expected in state.
func ErrNotFound(id ReportID, state State) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeReportNotFound,
		Message:   fmt.Sprintf("report %s not found in %s", id, state),
		Retryable: false,
		Details: map[string]interface{}{
			"report_id": string(id),
			"state":     state.String(),
		},
	}
}

// ErrConsent creates a consent error.
func ErrConsent(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConsent,
		Code:      CodeConsentRevoked,
		Message:   message,
		Retryable: false,
	}
}

// ErrUpload creates an upload error.
func ErrUpload(message string, retryable bool) *DomainError {
	return &DomainError{
		Category:  ErrCatUpload,
		Code:      CodeUploadFailed,
		Message:   message,
		Retryable: retryable,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates an illegal transition error.
func ErrState(from, to State) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeInvalidTransition,
		Message:   fmt.Sprintf("cannot transition from %s to %s", from, to),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	return IsCategory(err, ErrCatNotFound)
}

// IsConsent reports whether err is a ConsentError.
func IsConsent(err error) bool {
	return IsCategory(err, ErrCatConsent)
}

// Predefined error codes
const (
	CodeStorageFailed     = "STORAGE_FAILED"
	CodeStorageFull       = "STORAGE_FULL"
	CodeReportNotFound    = "REPORT_NOT_FOUND"
	CodeConsentRevoked    = "CONSENT_REVOKED"
	CodeUploadFailed      = "UPLOAD_FAILED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodePackagingFailed   = "PACKAGING_FAILED"
	CodeDigestMismatch    = "DIGEST_MISMATCH"

	// Validation error codes
	CodeEmptyPayload   = "EMPTY_PAYLOAD"
	CodeInvalidID      = "INVALID_REPORT_ID"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeInvalidState   = "INVALID_STATE"
	CodePayloadTooBig  = "PAYLOAD_TOO_LARGE"
	CodeInvalidTimeout = "INVALID_TIMEOUT"
	CodeReportExists   = "REPORT_EXISTS"
)

// MaxPayloadBytes is the largest raw payload accepted by capture.
const MaxPayloadBytes = 32 * 1024 * 1024
