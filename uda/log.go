// Copyright 2025-2026, United Kingdom Atomic Energy Authority (UKAEA)
// SPDX-License-Identifier: Apache-2.0

package uda

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel names a logging severity as written in configuration.
type LogLevel string

const (
	// LogException marks a plugin failure that aborts the request.
	LogException LogLevel = "EXCEPTION"
	// LogError logs only failures that abort a request or connection.
	LogError LogLevel = "ERROR"
	// LogWarn adds recoverable protocol anomalies.
	LogWarn LogLevel = "WARN"
	// LogInfo adds connection lifecycle events.
	LogInfo LogLevel = "INFO"
	// LogDebug adds per-message tracing.
	LogDebug LogLevel = "DEBUG"
	// LogTrace adds wire level detail.
	LogTrace LogLevel = "TRACE"
)

// slogLevel maps a LogLevel to its slog equivalent. Unknown names map to INFO.
func (l LogLevel) slogLevel() slog.Level {
	switch LogLevel(strings.ToUpper(string(l))) {
	case LogException, LogError:
		return slog.LevelError
	case LogWarn:
		return slog.LevelWarn
	case LogDebug:
		return slog.LevelDebug
	case LogTrace:
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger on stderr at the given level.
func NewLogger(level LogLevel) *slog.Logger {
	return newLoggerTo(os.Stderr, level)
}

func newLoggerTo(w io.Writer, level LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()}))
}

// discardLogger is used when a ConnectionContext is built without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
