package errors

import (
	"fmt"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, errors.New(code, "")) matches by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail key and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError whose Retryable flag follows its code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Retryable: IsRetryableCode(code)}
}

// newf is New with a formatted message and a single detail.
func newf(code ErrorCode, key string, value any, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...)).WithDetail(key, value)
}

// --- Connection errors ---

// ConnectionFailed creates a new AppError for a failed connection to a server.
func ConnectionFailed(name string, cause error) *AppError {
	return newf(ErrCodeConnectionFailed, "connection", name, "Unable to connect redis connection %q.", name).WithCause(cause)
}

// ConnectionClosed creates a new AppError for use of a connection after its end.
func ConnectionClosed(name string) *AppError {
	return newf(ErrCodeConnectionClosed, "connection", name, "Redis connection %q is closed.", name)
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, "The operation took too long.").WithDetail("operation", operation)
}

// --- Configuration errors ---

// ConnectionNotDefined creates a new AppError for a connection name missing from the configuration.
func ConnectionNotDefined(name string) *AppError {
	return newf(ErrCodeConnectionNotDefined, "connection", name, "Redis connection %q is not defined.", name)
}

// MissingDefaultConnection creates a new AppError for a manager without a default connection.
func MissingDefaultConnection() *AppError {
	return New(ErrCodeMissingDefaultConnection,
		"Missing default redis connection. Set connection to one of the configured connections.")
}

// InvalidConfig creates a new AppError for a configuration that failed validation.
func InvalidConfig(message string) *AppError {
	return New(ErrCodeInvalidConfig, message)
}

// Validation is an alias of InvalidConfig used by struct validation.
func Validation(message string) *AppError {
	return InvalidConfig(message)
}

// InvalidInput creates a new AppError for invalid arguments.
func InvalidInput(field, reason string) *AppError {
	err := New(ErrCodeInvalidInput, "Invalid input: "+reason)
	if field != "" {
		err.WithDetail("field", field)
	}
	return err
}

// --- Pub/sub errors ---

// DuplicateSubscription creates a new AppError for a second subscription to one channel.
func DuplicateSubscription(channel string) *AppError {
	return newf(ErrCodeDuplicateSubscription, "channel", channel, "Cannot subscribe to %q channel twice.", channel)
}

// DuplicatePatternSubscription creates a new AppError for a second subscription to one pattern.
func DuplicatePatternSubscription(pattern string) *AppError {
	return newf(ErrCodeDuplicatePatternSubscription, "pattern", pattern, "Cannot subscribe to %q pattern twice.", pattern)
}

// --- Script errors ---

// CommandNotDefined creates a new AppError for an unknown custom command.
func CommandNotDefined(name string) *AppError {
	return newf(ErrCodeCommandNotDefined, "command", name, "Command %q is not defined.", name)
}

// CommandAlreadyDefined creates a new AppError for a redefined custom command.
func CommandAlreadyDefined(name string) *AppError {
	return newf(ErrCodeCommandAlreadyDefined, "command", name, "Command %q is already defined.", name)
}

// --- Health errors ---

// MemoryThresholdExceeded creates a new AppError for a server over its memory threshold.
func MemoryThresholdExceeded(used, threshold int64) *AppError {
	return newf(ErrCodeMemoryThresholdExceeded, "used_memory", used,
		"Redis memory usage %d bytes exceeds threshold %d bytes.", used, threshold).WithDetail("threshold", threshold)
}

// Internal creates a new AppError for an unexpected internal error.
func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred.").WithCause(cause)
}
