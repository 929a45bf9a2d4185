// Package errors provides standardized error handling for metaingest components.
// It includes error classification, the ingest error taxonomy, and helper functions
// for consistent error wrapping across schema loading, parsing and the plugin chain.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360/metaingest/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors caused by the submitter's data
	ErrorInvalid
	// ErrorFatal represents errors that must be surfaced to an operator
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables
var (
	// Schema registry
	ErrSchema          = errors.New("schema error")
	ErrSchemaNotLoaded = errors.New("schema not loaded")

	// Record level, the caller's data is invalid
	ErrUnknownAttribute       = errors.New("unknown attribute")
	ErrTypeMismatch           = errors.New("type mismatch")
	ErrMultiplicityViolation  = errors.New("multiplicity violation")
	ErrAttributeConflict      = errors.New("attribute conflict")
	ErrInvalidAttributeValue  = errors.New("invalid attribute value")
	ErrRecordSchemaMismatched = errors.New("record bound to a different schema")

	// Parser level
	ErrIncompleteDocument = errors.New("incomplete document")
	ErrMalformedStructure = errors.New("malformed structure")
	ErrTransformFailure   = errors.New("transform failure")

	// Plugin chain
	ErrVetoed          = errors.New("request vetoed")
	ErrPluginExecution = errors.New("plugin execution failed")
	ErrIngestTimeout   = errors.New("ingest timed out")
	ErrInvalidRequest  = errors.New("invalid ingest request")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Storage
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")

	// Lifecycle
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrIngestTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// IsFatal checks if an error is fatal and should be surfaced to an operator
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrPluginExecution) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid submitted data
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrUnknownAttribute) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrMultiplicityViolation) ||
		errors.Is(err, ErrAttributeConflict) ||
		errors.Is(err, ErrInvalidAttributeValue) ||
		errors.Is(err, ErrRecordSchemaMismatched) ||
		errors.Is(err, ErrIncompleteDocument) ||
		errors.Is(err, ErrMalformedStructure) ||
		errors.Is(err, ErrTransformFailure) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrVetoed)
}

// Classify returns the error class for an error.
// Unknown errors default to transient so callers may decide to retry.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Origin returns the component and operation recorded on the outermost
// classified error in the chain, or empty strings when there is none.
func Origin(err error) (component, operation string) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Component, ce.Operation
	}
	return "", ""
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// RetryConfig defines configuration for retrying transient failures.
// MaxRetries counts retries after the first attempt.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ToRetryConfig converts to the retry package's Config.
// MaxRetries counts additional attempts, so one is added for the first try.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
