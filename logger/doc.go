// Package logger provides structured logging for rediskit using zerolog.
//
// It supports JSON and console output, level configuration and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("redis")
//	log.Info("connection ready", logger.Fields(logger.FieldConnection, "primary"))
package logger
