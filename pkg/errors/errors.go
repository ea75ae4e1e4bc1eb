// Package errors provides a structured error system for the font cache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for font cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Storage Errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Cache Errors
	ErrCodeCacheClosed  ErrorCode = "CACHE_CLOSED"
	ErrCodeCacheCorrupt ErrorCode = "CACHE_CORRUPT"

	// Font Errors
	ErrCodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	ErrCodeFontParse       ErrorCode = "FONT_PARSE"
	ErrCodeFontUnsupported ErrorCode = "FONT_UNSUPPORTED"
	ErrCodeRenderFailed    ErrorCode = "RENDER_FAILED"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryCache         ErrorCategory = "cache"
	CategoryFont          ErrorCategory = "font"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// FontCacheError represents a structured error with context and metadata.
type FontCacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	UserFacing bool `json:"user_facing"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *FontCacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FontCacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
// Two FontCacheErrors match when their codes are equal.
func (e *FontCacheError) Is(target error) bool {
	if other, ok := target.(*FontCacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *FontCacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("FontCacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *FontCacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new font cache error with default values.
func NewError(code ErrorCode, message string) *FontCacheError {
	return &FontCacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Wrap creates a new error with the given code that wraps cause.
func Wrap(cause error, code ErrorCode, message string) *FontCacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "STORAGE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "CACHE_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "FONT_") || strings.HasPrefix(codeStr, "FILE_") ||
		strings.HasPrefix(codeStr, "RENDER_"):
		return CategoryFont
	case strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:    true,
		ErrCodeConfigValidation: true,
		ErrCodeFileNotFound:     true,
		ErrCodeFontParse:        true,
		ErrCodeFontUnsupported:  true,
		ErrCodeRenderFailed:     true,
	}
	return userFacingCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *FontCacheError) WithContext(key, value string) *FontCacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *FontCacheError) WithDetail(key string, value interface{}) *FontCacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *FontCacheError) WithComponent(component string) *FontCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *FontCacheError) WithOperation(operation string) *FontCacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *FontCacheError) WithCause(cause error) *FontCacheError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *FontCacheError) WithStack() *FontCacheError {
	e.Stack = CaptureStack(2)
	return e
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *FontCacheError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred. Please contact support if this persists."
	}

	messages := map[ErrorCode]string{
		ErrCodeInvalidConfig:   "Invalid configuration",
		ErrCodeFileNotFound:    "Font file not found",
		ErrCodeFontParse:       "Could not load font",
		ErrCodeFontUnsupported: "Font format is not supported",
		ErrCodeRenderFailed:    "Preview unavailable",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}
	return e.Message
}

// HasCode reports whether err is, or wraps, a FontCacheError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if fe, ok := err.(*FontCacheError); ok && fe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
