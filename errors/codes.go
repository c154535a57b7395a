package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Connection/Availability errors (retryable)
const (
	// ErrCodeConnectionFailed indicates a failed connection to a Redis server.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeConnectionClosed indicates the connection already reached its end state.
	ErrCodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
)

// Configuration errors
const (
	// ErrCodeConnectionNotDefined indicates a connection name with no configuration entry.
	ErrCodeConnectionNotDefined ErrorCode = "CONNECTION_NOT_DEFINED"
	// ErrCodeMissingDefaultConnection indicates the manager has no default connection name.
	ErrCodeMissingDefaultConnection ErrorCode = "MISSING_DEFAULT_CONNECTION"
	// ErrCodeInvalidConfig indicates a configuration entry failed validation.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInvalidInput indicates arguments passed to an operation are invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Pub/sub errors
const (
	// ErrCodeDuplicateSubscription indicates a channel already has a handler on the connection.
	ErrCodeDuplicateSubscription ErrorCode = "E_MULTIPLE_REDIS_SUBSCRIPTIONS"
	// ErrCodeDuplicatePatternSubscription indicates a pattern already has a handler on the connection.
	ErrCodeDuplicatePatternSubscription ErrorCode = "E_MULTIPLE_REDIS_PSUBSCRIPTIONS"
)

// Script errors
const (
	// ErrCodeCommandNotDefined indicates RunCommand was called with an unknown name.
	ErrCodeCommandNotDefined ErrorCode = "COMMAND_NOT_DEFINED"
	// ErrCodeCommandAlreadyDefined indicates DefineCommand was called twice with one name.
	ErrCodeCommandAlreadyDefined ErrorCode = "COMMAND_ALREADY_DEFINED"
)

// Health errors
const (
	// ErrCodeMemoryThresholdExceeded indicates a server reports more memory than allowed.
	ErrCodeMemoryThresholdExceeded ErrorCode = "MEMORY_THRESHOLD_EXCEEDED"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnectionFailed: true,
	ErrCodeTimeout:          true,
	ErrCodeInternal:         false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
