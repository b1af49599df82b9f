// Package errors defines the structured error type shared by every paq
// component and the handler that reports failures at the build boundary.
package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeTool       ErrorType = "tool"
	ErrorTypeCollision  ErrorType = "collision"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeReadFailed       = "ERR_READ_FAILED"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
	ErrCodeInvalidPattern   = "ERR_INVALID_PATTERN"
	ErrCodeMinifyFailed     = "ERR_MINIFY_FAILED"
	ErrCodeTestFailed       = "ERR_TEST_FAILED"
	ErrCodeDocFailed        = "ERR_DOC_FAILED"
	ErrCodeToolNotFound     = "ERR_TOOL_NOT_FOUND"
	ErrCodeNamespaceClash   = "ERR_NAMESPACE_COLLISION"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeWatchFailed      = "ERR_WATCH_FAILED"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// PaqError is a structured error type with context.
type PaqError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Tool        string
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *PaqError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Tool != "" {
		parts = append(parts, "tool:"+e.Tool)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PaqError) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same type and code.
func (e *PaqError) Is(target error) bool {
	var t *PaqError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PaqError) WithContext(key string, value interface{}) *PaqError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath attaches the filesystem path the error concerns.
func (e *PaqError) WithPath(path string) *PaqError {
	e.Path = path

	return e
}

// NewIOError creates an I/O error. I/O errors abort the current build pass
// only, so they are recoverable from the point of view of the watch loop.
func NewIOError(code, message string, cause error) *PaqError {
	return &PaqError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewToolError creates an external tool failure.
func NewToolError(code, tool, message string, cause error) *PaqError {
	return &PaqError{
		Type:        ErrorTypeTool,
		Code:        code,
		Tool:        tool,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewCollisionError reports a namespace claimed by more than one file.
func NewCollisionError(namespace string, paths []string) *PaqError {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	return (&PaqError{
		Type:        ErrorTypeCollision,
		Code:        ErrCodeNamespaceClash,
		Message:     fmt.Sprintf("namespace %q is defined by %d files", namespace, len(paths)),
		Recoverable: true,
	}).WithContext("namespace", namespace).WithContext("paths", sorted)
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PaqError {
	return &PaqError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PaqError {
	return &PaqError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PaqError {
	return &PaqError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// ErrFileNotFound creates a missing path error.
func ErrFileNotFound(path string, cause error) *PaqError {
	return NewIOError(ErrCodeFileNotFound, "no such file or directory", cause).WithPath(path)
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PaqError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsIOError checks if an error is an I/O error.
func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

// IsToolError checks if an error was reported by an external tool.
func IsToolError(err error) bool {
	return hasType(err, ErrorTypeTool)
}

// IsCollisionError checks if an error is a namespace collision.
func IsCollisionError(err error) bool {
	return hasType(err, ErrorTypeCollision)
}

func hasType(err error, t ErrorType) bool {
	var pe *PaqError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}

// Logger is the subset of logging.Logger the handler needs.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler reports errors caught at the build boundary.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err according to its type. It never panics and never exits.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var pe *PaqError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch pe.Type {
	case ErrorTypeCollision:
		h.logger.Warn(ctx, err, "Namespace collision",
			"code", pe.Code,
			"namespace", pe.Context["namespace"],
			"paths", pe.Context["paths"])
	case ErrorTypeIO:
		h.logger.Error(ctx, err, "I/O error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"path", pe.Path)
	case ErrorTypeTool:
		h.logger.Error(ctx, err, "External tool failed",
			"type", pe.Type,
			"code", pe.Code,
			"tool", pe.Tool)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", pe.Type,
			"code", pe.Code)
	}
}
