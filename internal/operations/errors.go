package operations

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of operation error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeSaturated   ErrorType = "saturated"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeInUse       ErrorType = "in_use"
	ErrorTypeUnsupported ErrorType = "unsupported"
)

// OperationError is returned by queue and admin operations. Two errors
// match under errors.Is when their types match, so the exported sentinels
// can be used to classify any OperationError.
type OperationError struct {
	Type    ErrorType `json:"type"`
	UID     string    `json:"uid,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e == nil {
		return "unknown operation error"
	}
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.UID != "" {
		msg = fmt.Sprintf("[%s] %s: %s", e.Type, e.UID, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches on error type.
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Type == t.Type
}

var (
	ErrInvalidRequest            = &OperationError{Type: ErrorTypeValidation, Message: "invalid request"}
	ErrQueueSaturated            = &OperationError{Type: ErrorTypeSaturated, Message: "queue is full"}
	ErrNotFound                  = &OperationError{Type: ErrorTypeNotFound, Message: "operation not found"}
	ErrInUse                     = &OperationError{Type: ErrorTypeInUse, Message: "operation is running"}
	ErrUnsupportedAdminOperation = &OperationError{Type: ErrorTypeUnsupported, Message: "admin operation not supported"}
)

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *OperationError {
	return &OperationError{Type: ErrorTypeValidation, Message: message, Cause: cause}
}

// NewNotFoundError creates an error for an unknown uid
func NewNotFoundError(uid string) *OperationError {
	return &OperationError{Type: ErrorTypeNotFound, UID: uid, Message: "operation not found"}
}

// NewInUseError creates an error for an operation that cannot be touched
// while it runs
func NewInUseError(uid string) *OperationError {
	return &OperationError{Type: ErrorTypeInUse, UID: uid, Message: "operation is running"}
}

// GetErrorType returns the type of the error, or "" for foreign errors
func GetErrorType(err error) ErrorType {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Type
	}
	return ""
}
