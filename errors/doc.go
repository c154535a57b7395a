// Package errors provides the structured error type used across rediskit.
// Every error returned synchronously by the connection layer is an *AppError
// with a machine-readable code, so callers can branch with IsCode.
package errors
