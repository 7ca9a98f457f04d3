package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies host errors so callers can decide whether a failure
// is fatal, per-service, or only worth a log line.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInstall    ErrorType = "install"
	ErrorTypeAutostart  ErrorType = "autostart"
	ErrorTypeSpawn      ErrorType = "spawn"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeTask       ErrorType = "task"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Service lifecycle errors

// NewInstallError reports a failure to materialize a bundled payload on disk.
// The host treats it as fatal.
func NewInstallError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInstall, message, cause)
}

// NewAutostartError reports a failed login-trigger registration. Non-fatal.
func NewAutostartError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAutostart, message, cause)
}

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

// Relay and task errors

func NewConnectionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConnection, message, cause)
}

func NewTaskError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTask, message, cause)
}

// NewBorrowError is returned when a shared cell is already borrowed.
func NewBorrowError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// System errors

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Type returns the ErrorType of the outermost DomainError in err's chain,
// or "" when there is none.
func Type(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// isType matches any DomainError in err's chain, so a spawn error caused by
// a permission error satisfies both IsSpawnError and IsPermissionError.
func isType(err error, errorType ErrorType) bool {
	return errors.Is(err, &DomainError{Type: errorType})
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool   { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool   { return isType(err, ErrorTypeConflict) }
func IsInstallError(err error) bool    { return isType(err, ErrorTypeInstall) }
func IsAutostartError(err error) bool  { return isType(err, ErrorTypeAutostart) }
func IsSpawnError(err error) bool      { return isType(err, ErrorTypeSpawn) }
func IsProcessError(err error) bool    { return isType(err, ErrorTypeProcess) }
func IsConnectionError(err error) bool { return isType(err, ErrorTypeConnection) }
func IsTaskError(err error) bool       { return isType(err, ErrorTypeTask) }
func IsTimeoutError(err error) bool    { return isType(err, ErrorTypeTimeout) }
func IsPermissionError(err error) bool { return isType(err, ErrorTypePermission) }
func IsIOError(err error) bool         { return isType(err, ErrorTypeIO) }
func IsInternalError(err error) bool   { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool  { return isType(err, ErrorTypeCancelled) }

// ErrorCollection aggregates errors from bulk operations such as stopping
// every managed service.
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Unwrap exposes the collected errors to errors.Is / errors.As (Go 1.20+).
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
