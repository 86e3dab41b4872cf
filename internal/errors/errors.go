// Package errors provides centralized error handling with category and
// context metadata for downstream routing and logging.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryFileParsing   ErrorCategory = "file-parsing"
	CategoryDeviceCommand ErrorCategory = "device-command"
	CategoryDeviceState   ErrorCategory = "device-state"
	CategoryIngestion     ErrorCategory = "ingestion"
	CategoryRecording     ErrorCategory = "recording"
	CategoryState         ErrorCategory = "state"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryGeneric       ErrorCategory = "generic"
)

// EnhancedError wraps an error with component, category and context
// metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches either the wrapped error or another EnhancedError of the
// same category.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// ErrorBuilder provides a fluent interface for building enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a builder wrapping an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf creates a builder from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name where the error occurred.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.component = name
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

// Context adds a key-value pair of context data.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build constructs the EnhancedError.
func (b *ErrorBuilder) Build() *EnhancedError {
	return &EnhancedError{
		Err:       b.err,
		Component: b.component,
		Category:  b.category,
		Context:   b.context,
		Timestamp: time.Now(),
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
