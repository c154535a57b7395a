package errors

import (
	stderrors "errors"
)

// ErrorBody is the JSON shape of an error inside health reports.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToBody converts any error into an ErrorBody. Plain errors get the internal code.
func ToBody(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return &ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Error(),
			Retryable: appErr.Retryable,
			Details:   appErr.Details,
		}
	}
	return &ErrorBody{Code: ErrCodeInternal, Message: err.Error()}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is an AppError carrying code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// Join is errors.Join from the standard library, re-exported so callers
// importing this package do not need a second errors import.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
