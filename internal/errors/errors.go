package errors

import (
	"errors"
	"fmt"
)

// DRError represents errors that occur during disaster-recovery operations
type DRError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *DRError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *DRError) Unwrap() error {
	return e.Cause
}

// ErrorType represents different categories of disaster-recovery errors
type ErrorType string

const (
	ErrorTypeConnectivity        ErrorType = "CONNECTIVITY_ERROR"
	ErrorTypeResourceExhaustion  ErrorType = "RESOURCE_EXHAUSTION_ERROR"
	ErrorTypeInsufficientSpace   ErrorType = "INSUFFICIENT_SPACE_ERROR"
	ErrorTypeDump                ErrorType = "DUMP_ERROR"
	ErrorTypeCompression         ErrorType = "COMPRESSION_ERROR"
	ErrorTypeEncryption          ErrorType = "ENCRYPTION_ERROR"
	ErrorTypeUpload              ErrorType = "UPLOAD_ERROR"
	ErrorTypeSelfTest            ErrorType = "SELF_TEST_ERROR"
	ErrorTypeIntegrity           ErrorType = "INTEGRITY_ERROR"
	ErrorTypeComplianceViolation ErrorType = "COMPLIANCE_VIOLATION_ERROR"
	ErrorTypeFailoverAbort       ErrorType = "FAILOVER_ABORT_ERROR"
	ErrorTypeState               ErrorType = "STATE_ERROR"
	ErrorTypeConfiguration       ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeValidation          ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeTimeout             ErrorType = "TIMEOUT_ERROR"
	ErrorTypeUnknown             ErrorType = "UNKNOWN_ERROR"
)

// New creates a new DRError
func New(errorType ErrorType, message string, cause error) *DRError {
	return &DRError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *DRError) WithContext(key string, value interface{}) *DRError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors

func NewConnectivityError(message string, cause error) *DRError {
	return New(ErrorTypeConnectivity, message, cause)
}

func NewResourceExhaustionError(message string, cause error) *DRError {
	return New(ErrorTypeResourceExhaustion, message, cause)
}

func NewInsufficientSpaceError(message string, cause error) *DRError {
	return New(ErrorTypeInsufficientSpace, message, cause)
}

func NewDumpError(message string, cause error) *DRError {
	return New(ErrorTypeDump, message, cause)
}

func NewCompressionError(message string, cause error) *DRError {
	return New(ErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *DRError {
	return New(ErrorTypeEncryption, message, cause)
}

func NewUploadError(message string, cause error) *DRError {
	return New(ErrorTypeUpload, message, cause)
}

func NewSelfTestError(message string, cause error) *DRError {
	return New(ErrorTypeSelfTest, message, cause)
}

func NewIntegrityError(message string, cause error) *DRError {
	return New(ErrorTypeIntegrity, message, cause)
}

func NewComplianceViolationError(message string, cause error) *DRError {
	return New(ErrorTypeComplianceViolation, message, cause)
}

func NewFailoverAbortError(message string, cause error) *DRError {
	return New(ErrorTypeFailoverAbort, message, cause)
}

func NewStateError(message string, cause error) *DRError {
	return New(ErrorTypeState, message, cause)
}

func NewConfigurationError(message string, cause error) *DRError {
	return New(ErrorTypeConfiguration, message, cause)
}

func NewValidationError(message string, cause error) *DRError {
	return New(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DRError {
	return New(ErrorTypeNotFound, message, cause)
}

func NewTimeoutError(message string, cause error) *DRError {
	return New(ErrorTypeTimeout, message, cause)
}

// GetType returns the error type of an error, unwrapping as needed
func GetType(err error) ErrorType {
	var drErr *DRError
	if errors.As(err, &drErr) {
		return drErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable determines if an error should be retried on the next scheduled
// cycle rather than surfaced as permanent
func IsRetryable(err error) bool {
	if drErr, ok := err.(*DRError); ok {
		switch drErr.Type {
		case ErrorTypeConnectivity, ErrorTypeUpload, ErrorTypeTimeout:
			return true
		default:
			return false
		}
	}
	return false
}

// IsPermanent determines if an error is permanent and should not be retried
func IsPermanent(err error) bool {
	if drErr, ok := err.(*DRError); ok {
		switch drErr.Type {
		case ErrorTypeValidation, ErrorTypeIntegrity,
			ErrorTypeComplianceViolation, ErrorTypeConfiguration:
			return true
		default:
			return false
		}
	}
	return false
}

// IsFatal reports whether the error makes further control-loop decisions
// unsafe. State Store failures are fatal: no safe scheduling or retention
// decision can be made without durable state.
func IsFatal(err error) bool {
	if drErr, ok := err.(*DRError); ok {
		return drErr.Type == ErrorTypeState
	}
	return false
}

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
