// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with a configurable level that can be changed at runtime, plus helpers for carrying a
// request-scoped logger through a context.
package logger
